// Package memory implements the in-memory transactional store backing the
// template/instance core. Transactions run against a deep clone of the state
// and commit atomically on success, mirroring the semantics a relational
// backend provides via its own transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tapcore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*tx)(nil)
)

// Default EUID prefixes per entity family; templates may override the prefix
// used for their instances via instance_prefix.
const (
	templatePrefix = "GT"
	instancePrefix = "GI"
	lineagePrefix  = "GL"
	actionPrefix   = "XX"
	filePrefix     = "FI"
)

type state struct {
	templates map[string]*domain.Template
	instances map[string]*domain.Instance
	lineages  map[string]*domain.Lineage
	sequences map[string]int64
}

func newState() state {
	return state{
		templates: make(map[string]*domain.Template),
		instances: make(map[string]*domain.Instance),
		lineages:  make(map[string]*domain.Lineage),
		sequences: make(map[string]int64),
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.templates {
		cloned.templates[k] = v.Clone()
	}
	for k, v := range s.instances {
		cloned.instances[k] = v.Clone()
	}
	for k, v := range s.lineages {
		cloned.lineages[k] = v.Clone()
	}
	for k, v := range s.sequences {
		cloned.sequences[k] = v
	}
	return cloned
}

// Store is an in-memory domain.Store with clone-per-transaction semantics.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the store clock; tests use it for deterministic
// timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// RunInTransaction executes fn against a clone of the state and commits the
// clone only when fn succeeds, so a failing instantiation leaves no rows.
func (s *Store) RunInTransaction(_ context.Context, fn func(domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone(), now: s.nowFn()}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// View executes fn against a read-only clone; mutations are discarded.
func (s *Store) View(_ context.Context, fn func(domain.Tx) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	now := s.nowFn()
	s.mu.RUnlock()

	return fn(&tx{state: snapshot, now: now})
}

// Snapshot is the serializable form of the store state, used by the durable
// backends to persist committed state as JSON buckets.
type Snapshot struct {
	Templates []*domain.Template `json:"templates"`
	Instances []*domain.Instance `json:"instances"`
	Lineages  []*domain.Lineage  `json:"lineages"`
	Sequences map[string]int64   `json:"sequences"`
}

// ExportState clones the committed state for external persistence, ordered by
// EUID for deterministic output.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Sequences: make(map[string]int64, len(s.state.sequences))}
	for _, t := range s.state.templates {
		snap.Templates = append(snap.Templates, t.Clone())
	}
	for _, i := range s.state.instances {
		snap.Instances = append(snap.Instances, i.Clone())
	}
	for _, l := range s.state.lineages {
		snap.Lineages = append(snap.Lineages, l.Clone())
	}
	for k, v := range s.state.sequences {
		snap.Sequences[k] = v
	}
	sort.Slice(snap.Templates, func(i, j int) bool { return snap.Templates[i].EUID < snap.Templates[j].EUID })
	sort.Slice(snap.Instances, func(i, j int) bool { return snap.Instances[i].EUID < snap.Instances[j].EUID })
	sort.Slice(snap.Lineages, func(i, j int) bool { return snap.Lineages[i].EUID < snap.Lineages[j].EUID })
	return snap
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := newState()
	for _, t := range snap.Templates {
		st.templates[t.UUID] = t.Clone()
	}
	for _, i := range snap.Instances {
		st.instances[i.UUID] = i.Clone()
	}
	for _, l := range snap.Lineages {
		st.lineages[l.UUID] = l.Clone()
	}
	for k, v := range snap.Sequences {
		st.sequences[k] = v
	}
	s.state = st
}

// tx implements domain.Tx over a private state clone.
type tx struct {
	state state
	now   time.Time
}

func (t *tx) nextEUID(prefix string) string {
	t.state.sequences[prefix]++
	return fmt.Sprintf("%s%d", prefix, t.state.sequences[prefix])
}

func (t *tx) ResolveTemplateByCode(code domain.TemplateCode) (*domain.Template, bool) {
	category, typ, subtype, version, ok := code.Segments()
	if !ok {
		return nil, false
	}
	for _, tmpl := range t.state.templates {
		if tmpl.Deleted {
			continue
		}
		if tmpl.Category == category && tmpl.Type == typ && tmpl.Subtype == subtype && tmpl.Version == version {
			return tmpl.Clone(), true
		}
	}
	return nil, false
}

func (t *tx) ResolveTemplateByEUID(euid string) (*domain.Template, bool) {
	for _, tmpl := range t.state.templates {
		if !tmpl.Deleted && tmpl.EUID == euid {
			return tmpl.Clone(), true
		}
	}
	return nil, false
}

func (t *tx) GetTemplate(uuid string) (*domain.Template, bool) {
	tmpl, ok := t.state.templates[uuid]
	if !ok {
		return nil, false
	}
	return tmpl.Clone(), true
}

func (t *tx) ListTemplates(filter domain.TemplateFilter) []*domain.Template {
	var out []*domain.Template
	for _, tmpl := range t.state.templates {
		if tmpl.Deleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Category != "" && tmpl.Category != filter.Category {
			continue
		}
		if filter.Type != "" && tmpl.Type != filter.Type {
			continue
		}
		out = append(out, tmpl.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EUID < out[j].EUID })
	return out
}

func (t *tx) InsertTemplate(tmpl *domain.Template) (*domain.Template, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("template cannot be nil")
	}
	stored := tmpl.Clone()
	if stored.UUID == "" {
		stored.UUID = uuid.NewString()
	}
	if _, exists := t.state.templates[stored.UUID]; exists {
		return nil, fmt.Errorf("template %q already exists", stored.UUID)
	}
	if stored.EUID == "" {
		stored.EUID = t.nextEUID(templatePrefix)
	}
	if stored.Discriminator == "" {
		stored.Discriminator = domain.DiscriminatorGenericTemplate
	}
	stored.CreatedAt = t.now
	stored.UpdatedAt = t.now
	t.state.templates[stored.UUID] = stored
	return stored.Clone(), nil
}

func (t *tx) SoftDeleteTemplate(uuid string) error {
	tmpl, ok := t.state.templates[uuid]
	if !ok {
		return fmt.Errorf("template %q not found", uuid)
	}
	tmpl.Deleted = true
	tmpl.UpdatedAt = t.now
	return nil
}

func (t *tx) InsertInstance(inst *domain.Instance) (*domain.Instance, error) {
	return t.insertInstance(inst, instancePrefix)
}

func (t *tx) InsertActionRecord(rec *domain.Instance) (*domain.Instance, error) {
	return t.insertInstance(rec, actionPrefix)
}

func (t *tx) insertInstance(inst *domain.Instance, fallbackPrefix string) (*domain.Instance, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	stored := inst.Clone()
	if stored.UUID == "" {
		stored.UUID = uuid.NewString()
	}
	if _, exists := t.state.instances[stored.UUID]; exists {
		return nil, fmt.Errorf("instance %q already exists", stored.UUID)
	}
	if stored.EUID == "" {
		stored.EUID = t.nextEUID(t.instanceEUIDPrefix(stored, fallbackPrefix))
	}
	if stored.Discriminator == "" {
		stored.Discriminator = domain.DiscriminatorGenericInstance
	}
	if stored.Config.AuditLog == nil {
		stored.Config.AuditLog = []map[string]any{}
	}
	stored.CreatedAt = t.now
	stored.UpdatedAt = t.now
	t.state.instances[stored.UUID] = stored
	return stored.Clone(), nil
}

func (t *tx) instanceEUIDPrefix(inst *domain.Instance, fallback string) string {
	if tmpl, ok := t.state.templates[inst.TemplateUUID]; ok && tmpl.InstancePrefix != "" {
		return tmpl.InstancePrefix
	}
	if inst.Discriminator == domain.DiscriminatorFileInstance {
		return filePrefix
	}
	return fallback
}

func (t *tx) GetInstance(uuid string) (*domain.Instance, bool) {
	inst, ok := t.state.instances[uuid]
	if !ok || inst.Deleted {
		return nil, false
	}
	return inst.Clone(), true
}

func (t *tx) ListInstancesByTemplate(templateUUID string, includeDeleted bool) []*domain.Instance {
	var out []*domain.Instance
	for _, inst := range t.state.instances {
		if inst.TemplateUUID != templateUUID {
			continue
		}
		if inst.Deleted && !includeDeleted {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return euidOrdinal(out[i].EUID) > euidOrdinal(out[j].EUID)
	})
	return out
}

func (t *tx) SoftDeleteInstance(uuid string) error {
	inst, ok := t.state.instances[uuid]
	if !ok {
		return fmt.Errorf("instance %q not found", uuid)
	}
	inst.Deleted = true
	inst.UpdatedAt = t.now
	return nil
}

func (t *tx) InsertLineage(edge *domain.Lineage) (*domain.Lineage, error) {
	if edge == nil {
		return nil, fmt.Errorf("lineage cannot be nil")
	}
	parent, ok := t.state.instances[edge.ParentUUID]
	if !ok || parent.Deleted {
		return nil, fmt.Errorf("lineage parent %q not found", edge.ParentUUID)
	}
	child, ok := t.state.instances[edge.ChildUUID]
	if !ok || child.Deleted {
		return nil, fmt.Errorf("lineage child %q not found", edge.ChildUUID)
	}

	stored := edge.Clone()
	if stored.UUID == "" {
		stored.UUID = uuid.NewString()
	}
	if _, exists := t.state.lineages[stored.UUID]; exists {
		return nil, fmt.Errorf("lineage %q already exists", stored.UUID)
	}
	if stored.EUID == "" {
		stored.EUID = t.nextEUID(lineagePrefix)
	}
	if stored.Discriminator == "" {
		stored.Discriminator = domain.DiscriminatorGenericLineage
	}
	if stored.RelationshipType == "" {
		stored.RelationshipType = domain.DefaultRelationshipType
	}
	if stored.Name == "" {
		stored.Name = parent.EUID + "->" + child.EUID
	}
	if stored.ParentType == "" {
		stored.ParentType = parent.Discriminator
	}
	if stored.ChildType == "" {
		stored.ChildType = child.Discriminator
	}
	stored.CreatedAt = t.now
	stored.UpdatedAt = t.now
	t.state.lineages[stored.UUID] = stored

	hydrated := stored.Clone()
	hydrated.Parent = parent.Clone()
	hydrated.Child = child.Clone()
	return hydrated, nil
}

func (t *tx) ListParentOfLineages(instanceUUID string) []*domain.Lineage {
	return t.listLineages(instanceUUID, true)
}

func (t *tx) ListChildOfLineages(instanceUUID string) []*domain.Lineage {
	return t.listLineages(instanceUUID, false)
}

func (t *tx) listLineages(instanceUUID string, outgoing bool) []*domain.Lineage {
	var out []*domain.Lineage
	for _, edge := range t.state.lineages {
		if edge.Deleted {
			continue
		}
		if outgoing && edge.ParentUUID != instanceUUID {
			continue
		}
		if !outgoing && edge.ChildUUID != instanceUUID {
			continue
		}
		hydrated := edge.Clone()
		if parent, ok := t.state.instances[edge.ParentUUID]; ok {
			hydrated.Parent = parent.Clone()
		}
		if child, ok := t.state.instances[edge.ChildUUID]; ok {
			hydrated.Child = child.Clone()
		}
		out = append(out, hydrated)
	}
	sort.Slice(out, func(i, j int) bool { return euidOrdinal(out[i].EUID) < euidOrdinal(out[j].EUID) })
	return out
}

func (t *tx) MarkConfigurationChanged(inst *domain.Instance) error {
	if inst == nil {
		return fmt.Errorf("instance cannot be nil")
	}
	current, ok := t.state.instances[inst.UUID]
	if !ok {
		return fmt.Errorf("instance %q not found", inst.UUID)
	}
	current.Config = inst.Config.Clone()
	current.Status = inst.Status
	current.UpdatedAt = t.now
	inst.UpdatedAt = t.now
	return nil
}

// euidOrdinal extracts the numeric sequence from an EUID so GI10 orders after
// GI9; non-numeric suffixes order as zero.
func euidOrdinal(euid string) int64 {
	i := 0
	for i < len(euid) && (euid[i] < '0' || euid[i] > '9') {
		i++
	}
	var n int64
	for _, r := range strings.TrimLeft(euid[i:], "0") {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
