package domain

import "context"

// TemplateFilter narrows ListTemplates results. Zero values mean "no filter";
// soft-deleted rows are excluded unless IncludeDeleted is set.
type TemplateFilter struct {
	Category       string
	Type           string
	IncludeDeleted bool
}

// Tx exposes the storage operations the core consumes within one atomic
// scope. It is the Go analog of an explicit database session: every core
// component receives a Tx from the caller rather than owning a connection.
//
// Identity assignment is synchronous: Insert* methods return the row with
// UUID and EUID populated before the surrounding transaction commits.
type Tx interface {
	// ResolveTemplateByCode returns the live template with the given
	// canonical code. Soft-deleted rows are excluded.
	ResolveTemplateByCode(code TemplateCode) (*Template, bool)
	// ResolveTemplateByEUID returns the live template with the given EUID.
	ResolveTemplateByEUID(euid string) (*Template, bool)
	// GetTemplate fetches a template row by durable identity, including
	// soft-deleted rows (the Deleted flag is set); resolver caches use this
	// to re-validate stale entries.
	GetTemplate(uuid string) (*Template, bool)
	// ListTemplates returns templates matching the filter.
	ListTemplates(filter TemplateFilter) []*Template
	// InsertTemplate persists a template, assigning identity. Used by
	// seeding tooling and tests; the core itself never writes templates.
	InsertTemplate(t *Template) (*Template, error)
	// SoftDeleteTemplate marks a template deleted without removing the row.
	SoftDeleteTemplate(uuid string) error

	// InsertInstance persists an instance, assigning UUID and a
	// prefix-sequenced EUID.
	InsertInstance(inst *Instance) (*Instance, error)
	// GetInstance fetches a live instance by UUID.
	GetInstance(uuid string) (*Instance, bool)
	// ListInstancesByTemplate returns instances created from a template,
	// newest first.
	ListInstancesByTemplate(templateUUID string, includeDeleted bool) []*Instance
	// SoftDeleteInstance marks an instance deleted.
	SoftDeleteInstance(uuid string) error

	// InsertLineage persists a directed edge. Both endpoints must exist and
	// be live at creation time; edges are immutable afterwards.
	InsertLineage(edge *Lineage) (*Lineage, error)
	// ListParentOfLineages returns an instance's outgoing edges with both
	// endpoints hydrated.
	ListParentOfLineages(instanceUUID string) []*Lineage
	// ListChildOfLineages returns an instance's incoming edges with both
	// endpoints hydrated.
	ListChildOfLineages(instanceUUID string) []*Lineage

	// MarkConfigurationChanged persists an in-place mutation of the
	// instance's configuration blob.
	MarkConfigurationChanged(inst *Instance) error

	// InsertActionRecord persists an audit record (an action-discriminated
	// instance), minting its EUID from the action template's prefix.
	InsertActionRecord(rec *Instance) (*Instance, error)
}

// Store is the transactional storage collaborator. RunInTransaction applies
// fn atomically: when fn returns an error nothing it wrote is visible. View
// runs fn against a read-only snapshot.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
