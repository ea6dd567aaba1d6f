package core

import (
	"context"
	"testing"

	"tapcore/internal/infra/persistence/memory"
	"tapcore/pkg/domain"
)

func newTestStore() *memory.Store {
	return memory.NewStore()
}

func seedTemplate(t *testing.T, store *memory.Store, tmpl *domain.Template) *domain.Template {
	t.Helper()
	var out *domain.Template
	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		var txErr error
		out, txErr = tx.InsertTemplate(tmpl)
		return txErr
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return out
}

func templateWithCode(code string) *domain.Template {
	category, typ, subtype, version, ok := domain.TemplateCode(code).Segments()
	if !ok {
		panic("bad template code in test: " + code)
	}
	return &domain.Template{
		Base: domain.Base{
			Name:     subtype,
			Category: category,
			Type:     typ,
			Subtype:  subtype,
			Version:  version,
		},
	}
}

func inTx(t *testing.T, store *memory.Store, fn func(tx domain.Tx) error) error {
	t.Helper()
	return store.RunInTransaction(context.Background(), fn)
}
