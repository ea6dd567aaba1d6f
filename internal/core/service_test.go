package core

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"tapcore/internal/blob"
	"tapcore/pkg/domain"
)

type captureMetrics struct {
	mu    sync.Mutex
	calls map[string][]bool
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{calls: make(map[string][]bool)}
}

func (m *captureMetrics) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[operation] = append(m.calls[operation], success)
}

func TestServiceCreateInstanceWithSubtree(t *testing.T) {
	store := newTestStore()
	seedTemplate(t, store, templateWithCode("container/well/well-a/1.0"))
	tmpl := templateWithCode("container/plate/plate-96/1.0")
	tmpl.Config.Layouts = []any{
		map[string]any{
			"child_templates": []any{
				map[string]any{"template_code": "container/well/well-a/1.0", "count": float64(2)},
			},
		},
	}
	seedTemplate(t, store, tmpl)

	metrics := newCaptureMetrics()
	svc := NewService(store, WithMetrics(metrics))

	inst, err := svc.CreateInstance(context.Background(), "container/plate/plate-96/1.0", "plate-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	children, err := svc.SortedParents(context.Background(), inst.UUID, nil)
	if err != nil {
		t.Fatalf("sorted parents: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	if got := metrics.calls["create_instance"]; len(got) != 1 || !got[0] {
		t.Errorf("metrics not recorded: %v", metrics.calls)
	}
}

func TestServiceCreateInstanceFailureRecordsErrorMetric(t *testing.T) {
	store := newTestStore()
	metrics := newCaptureMetrics()
	svc := NewService(store, WithMetrics(metrics))

	if _, err := svc.CreateInstance(context.Background(), "no/such/template/1.0", "x", CreateOptions{}); err == nil {
		t.Fatal("expected not-found error")
	}
	if got := metrics.calls["create_instance"]; len(got) != 1 || got[0] {
		t.Errorf("error metric not recorded: %v", metrics.calls)
	}
}

func TestServiceExecuteAction(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	svc := NewService(store, WithHandlers(map[string]ActionHandler{
		"seal": func(_ *domain.Instance, _ *domain.ActionState, captured map[string]any) (ActionResult, error) {
			return ActionResult{Status: StatusSuccess, Data: captured}, nil
		},
	}))

	result, err := svc.ExecuteAction(context.Background(), inst.UUID, "plate_actions", "seal", map[string]any{"note": "ok"}, true, "jordan")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusSuccess || result.Data["note"] != "ok" {
		t.Fatalf("result = %+v", result)
	}

	got, err := svc.GetInstance(context.Background(), inst.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Config.Action("plate_actions", "seal").Executed != "1" {
		t.Error("tracking not persisted through service")
	}

	t.Run("unknown action errors", func(t *testing.T) {
		if _, err := svc.ExecuteAction(context.Background(), inst.UUID, "plate_actions", "ghost", nil, false, ""); err == nil {
			t.Error("expected error for unknown action")
		}
	})
	t.Run("unknown instance errors", func(t *testing.T) {
		if _, err := svc.ExecuteAction(context.Background(), "missing", "plate_actions", "seal", nil, false, ""); err == nil {
			t.Error("expected error for unknown instance")
		}
	})
}

func TestServiceLinkInstances(t *testing.T) {
	store := newTestStore()
	seedTemplate(t, store, templateWithCode("container/plate/plate-96/1.0"))
	svc := NewService(store)

	a, err := svc.CreateInstance(context.Background(), "container/plate/plate-96/1.0", "a", CreateOptions{})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := svc.CreateInstance(context.Background(), "container/plate/plate-96/1.0", "b", CreateOptions{})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	edge, err := svc.LinkInstances(context.Background(), a.UUID, b.UUID, "derived_from")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if edge.RelationshipType != "derived_from" {
		t.Errorf("relationship = %q", edge.RelationshipType)
	}

	incoming, err := svc.SortedChildren(context.Background(), b.UUID, nil)
	if err != nil {
		t.Fatalf("sorted children: %v", err)
	}
	if len(incoming) != 1 || incoming[0].Parent.UUID != a.UUID {
		t.Errorf("incoming edges wrong: %+v", incoming)
	}
}

func TestServiceFilterLineage(t *testing.T) {
	store := newTestStore()
	seedTemplate(t, store, templateWithCode("container/well/well-a/1.0"))
	seedTemplate(t, store, templateWithCode("container/well/well-b/1.0"))
	tmpl := templateWithCode("container/plate/plate-96/1.0")
	tmpl.Config.Layouts = []any{
		"container/well/well-a/1.0",
		"container/well/well-b/1.0",
	}
	seedTemplate(t, store, tmpl)
	svc := NewService(store)

	parent, err := svc.CreateInstance(context.Background(), "container/plate/plate-96/1.0", "plate-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	matches, err := svc.FilterLineage(context.Background(), parent.UUID, ParentOfLineages, ChildInstanceMember, map[string]any{
		"subtype": "well-b",
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(matches) != 1 || matches[0].Child.Subtype != "well-b" {
		t.Fatalf("unexpected matches %+v", matches)
	}

	if _, err := svc.FilterLineage(context.Background(), parent.UUID, ParentOfLineages, ChildInstanceMember, nil); err == nil {
		t.Error("empty criteria should error")
	}
}

func TestServiceResolveAndListTemplates(t *testing.T) {
	store := newTestStore()
	seeded := seedTemplate(t, store, templateWithCode("container/plate/plate-96/1.0"))
	seedTemplate(t, store, templateWithCode("workflow/assay/qc-run/1.0"))
	svc := NewService(store)

	tpl, err := svc.ResolveTemplate(context.Background(), "container/plate/plate-96/1.0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tpl.UUID != seeded.UUID {
		t.Errorf("resolved wrong template")
	}

	byEUID, err := svc.ResolveTemplateByEUID(context.Background(), seeded.EUID)
	if err != nil {
		t.Fatalf("resolve by euid: %v", err)
	}
	if byEUID.UUID != seeded.UUID {
		t.Errorf("euid resolution wrong")
	}

	containers, err := svc.ListTemplates(context.Background(), TemplateFilter{Category: "container"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(containers) != 1 {
		t.Errorf("filter returned %d templates", len(containers))
	}

	svc.ClearTemplateCache()
	if _, err := svc.ResolveTemplate(context.Background(), "container/plate/plate-96/1.0"); err != nil {
		t.Errorf("resolve after cache clear: %v", err)
	}
}

func TestServiceGetOrCreateSingleton(t *testing.T) {
	store := newTestStore()
	tmpl := templateWithCode("system/registry/global/1.0")
	tmpl.Config.Singleton = true
	seedTemplate(t, store, tmpl)
	svc := NewService(store)

	first, err := svc.GetOrCreateSingleton(context.Background(), "system/registry/global/1.0", "registry", CreateOptions{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.GetOrCreateSingleton(context.Background(), "system/registry/global/1.0", "registry", CreateOptions{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.UUID != second.UUID {
		t.Error("singleton duplicated across service calls")
	}
}

func TestServiceAttachFile(t *testing.T) {
	store := newTestStore()
	seedTemplate(t, store, templateWithCode("container/plate/plate-96/1.0"))
	blobs := blob.NewMemoryStore()
	svc := NewService(store, WithBlobStore(blobs))

	target, err := svc.CreateInstance(context.Background(), "container/plate/plate-96/1.0", "plate-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fileInst, err := svc.AttachFile(context.Background(), target.UUID, "results.csv", strings.NewReader("a,b\n"), "text/csv")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if fileInst.Discriminator != domain.DiscriminatorFileInstance {
		t.Errorf("discriminator = %q", fileInst.Discriminator)
	}
	key, _ := fileInst.Config.Properties["blob_key"].(string)
	if key == "" {
		t.Fatalf("blob key missing: %+v", fileInst.Config.Properties)
	}

	rc, info, err := svc.OpenFile(context.Background(), key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "a,b\n" || info.ContentType != "text/csv" {
		t.Errorf("payload = %q, info = %+v", data, info)
	}

	edges, err := svc.FilterLineage(context.Background(), target.UUID, ParentOfLineages, ChildInstanceMember, map[string]any{
		"discriminator": domain.DiscriminatorFileInstance,
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(edges) != 1 || edges[0].RelationshipType != "attached" {
		t.Fatalf("attachment edge wrong: %+v", edges)
	}

	t.Run("missing target cleans up payload", func(t *testing.T) {
		if _, err := svc.AttachFile(context.Background(), "missing", "x.txt", strings.NewReader("x"), "text/plain"); err == nil {
			t.Fatal("expected error for missing target")
		}
		if _, err := blobs.Head(context.Background(), "instances/missing/x.txt"); err == nil {
			t.Error("orphaned payload not cleaned up")
		}
	})

	t.Run("no blob store configured", func(t *testing.T) {
		bare := NewService(newTestStore())
		if _, err := bare.AttachFile(context.Background(), target.UUID, "x", strings.NewReader("x"), ""); err == nil {
			t.Error("expected error without blob store")
		}
	})
}

func TestServiceSortedParentsPrioritizesWorkflowSteps(t *testing.T) {
	store := newTestStore()
	step := templateWithCode("workflow/step/prep/1.0")
	step.InstanceDiscriminator = domain.DiscriminatorWorkflowStep
	seedTemplate(t, store, step)
	seedTemplate(t, store, templateWithCode("container/well/well-a/1.0"))
	tmpl := templateWithCode("workflow/assay/qc-run/1.0")
	tmpl.Config.Layouts = []any{
		"container/well/well-a/1.0",
		"workflow/step/prep/1.0",
	}
	seedTemplate(t, store, tmpl)
	svc := NewService(store)

	parent, err := svc.CreateInstance(context.Background(), "workflow/assay/qc-run/1.0", "run-1", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sorted, err := svc.SortedParents(context.Background(), parent.UUID, nil)
	if err != nil {
		t.Fatalf("sorted parents: %v", err)
	}
	if len(sorted) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(sorted))
	}
	if sorted[0].Child.Discriminator != domain.DiscriminatorWorkflowStep {
		t.Errorf("workflow step not first: %q", sorted[0].Child.Discriminator)
	}
}
