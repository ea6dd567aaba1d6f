package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"tapcore/internal/blob"
	"tapcore/pkg/domain"
)

// Service is the facade over the resolver, factory, dispatcher, and lineage
// queries. Each method opens its own transaction or read snapshot and records
// an operation metric.
type Service struct {
	store      domain.Store
	resolver   *TemplateResolver
	factory    *InstanceFactory
	dispatcher *ActionDispatcher
	blobs      blob.Store
	logger     Logger
	metrics    MetricsRecorder
	nowFn      func() time.Time

	resolverTTL time.Duration
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used by the service and its components.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the operation metrics recorder.
func WithMetrics(metrics MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithBlobStore enables file attachment support.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(s *Service) { s.blobs = store }
}

// WithHandlers registers action handlers at construction time.
func WithHandlers(handlers map[string]ActionHandler) ServiceOption {
	return func(s *Service) {
		for key, h := range handlers {
			s.dispatcher.Register(key, h)
		}
	}
}

// WithResolverCacheTTL bounds the template cache entry lifetime.
func WithResolverCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.resolverTTL = ttl }
}

// NewService assembles a service over the given store.
func NewService(store domain.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  NopLogger(),
		metrics: NopMetrics(),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewTemplateResolver(WithResolverTTL(s.resolverTTL), WithResolverLogger(s.logger))
	}
	if s.factory == nil {
		s.factory = NewInstanceFactory(s.resolver, WithFactoryLogger(s.logger))
	}
	if s.dispatcher == nil {
		s.dispatcher = NewActionDispatcher(WithDispatcherLogger(s.logger))
	}
	return s
}

// RegisterHandler binds an action handler after construction.
func (s *Service) RegisterHandler(key string, handler ActionHandler) {
	s.dispatcher.Register(key, handler)
}

// observe returns a deferred-friendly closure capturing the start time; the
// error pointer is read when the operation finishes.
func (s *Service) observe(ctx context.Context, operation string, errp *error) func() {
	start := s.nowFn()
	return func() {
		s.metrics.Observe(ctx, operation, *errp == nil, s.nowFn().Sub(start))
	}
}

// CreateInstance creates an instance of the coded template, with its full
// child subtree unless opts says otherwise. The whole subtree commits or
// nothing does.
func (s *Service) CreateInstance(ctx context.Context, code, name string, opts CreateOptions) (inst *Instance, err error) {
	defer s.observe(ctx, "create_instance", &err)()
	err = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		var txErr error
		inst, txErr = s.factory.CreateInstance(tx, code, name, opts)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetOrCreateSingleton returns the newest live instance of a singleton
// template, creating one when none exists.
func (s *Service) GetOrCreateSingleton(ctx context.Context, code, name string, opts CreateOptions) (inst *Instance, err error) {
	defer s.observe(ctx, "get_or_create_singleton", &err)()
	err = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		var txErr error
		inst, txErr = s.factory.GetOrCreateSingleton(tx, code, name, opts)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstance fetches a live instance by UUID.
func (s *Service) GetInstance(ctx context.Context, uuid string) (*Instance, error) {
	var inst *Instance
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, ok := tx.GetInstance(uuid)
		if !ok {
			return fmt.Errorf("instance %s not found", uuid)
		}
		inst = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// LinkInstances creates a lineage edge between two existing instances.
func (s *Service) LinkInstances(ctx context.Context, parentUUID, childUUID, relationshipType string) (edge *Lineage, err error) {
	defer s.observe(ctx, "link_instances", &err)()
	err = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		parent, ok := tx.GetInstance(parentUUID)
		if !ok {
			return fmt.Errorf("parent instance %s not found", parentUUID)
		}
		child, ok := tx.GetInstance(childUUID)
		if !ok {
			return fmt.Errorf("child instance %s not found", childUUID)
		}
		var txErr error
		edge, txErr = s.factory.LinkInstances(tx, parent, child, relationshipType)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// ExecuteAction runs one materialized action on an instance. Handler failures
// come back as error results, not errors; the error return covers lookup and
// persistence problems.
func (s *Service) ExecuteAction(ctx context.Context, instanceUUID, group, key string, captured map[string]any, recordAction bool, user string) (result ActionResult, err error) {
	defer s.observe(ctx, "execute_action", &err)()
	err = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		inst, ok := tx.GetInstance(instanceUUID)
		if !ok {
			return fmt.Errorf("instance %s not found", instanceUUID)
		}
		action := inst.Config.Action(group, key)
		if action == nil {
			return fmt.Errorf("instance %s has no action %s/%s", inst.EUID, group, key)
		}
		var txErr error
		result, txErr = s.dispatcher.Execute(tx, ExecuteRequest{
			Instance:     inst,
			Group:        group,
			Key:          key,
			Action:       action,
			Captured:     captured,
			RecordAction: recordAction,
			User:         user,
		})
		return txErr
	})
	if err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

// ResolveTemplate resolves a template by its 4-part code.
func (s *Service) ResolveTemplate(ctx context.Context, code string) (*Template, error) {
	var tpl *Template
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, ok := s.resolver.ResolveByCode(tx, code)
		if !ok {
			return domain.NotFoundError{Code: domain.NormalizeTemplateCode(code)}
		}
		tpl = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// ResolveTemplateByEUID resolves a template by EUID.
func (s *Service) ResolveTemplateByEUID(ctx context.Context, euid string) (*Template, error) {
	var tpl *Template
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, ok := s.resolver.ResolveByEUID(tx, euid)
		if !ok {
			return domain.NotFoundError{EUID: euid}
		}
		tpl = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListTemplates returns templates matching the filter.
func (s *Service) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error) {
	var out []*Template
	err := s.store.View(ctx, func(tx domain.Tx) error {
		out = s.resolver.ListTemplates(tx, filter)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearTemplateCache drops every cached template resolution.
func (s *Service) ClearTemplateCache() {
	s.resolver.ClearCache()
}

// SortedParents returns an instance's outgoing edges, priority discriminators
// first, each group ordered by child EUID.
func (s *Service) SortedParents(ctx context.Context, instanceUUID string, priority []string) ([]*Lineage, error) {
	var out []*Lineage
	err := s.store.View(ctx, func(tx domain.Tx) error {
		out = domain.SortedParentOfLineages(tx.ListParentOfLineages(instanceUUID), priority)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SortedChildren is the incoming-edge counterpart of SortedParents.
func (s *Service) SortedChildren(ctx context.Context, instanceUUID string, priority []string) ([]*Lineage, error) {
	var out []*Lineage
	err := s.store.View(ctx, func(tx domain.Tx) error {
		out = domain.SortedChildOfLineages(tx.ListChildOfLineages(instanceUUID), priority)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FilterLineage returns the instance's edges in the given direction whose
// selected endpoint matches all criteria.
func (s *Service) FilterLineage(ctx context.Context, instanceUUID string, direction LineageDirection, member LineageMember, criteria map[string]any) ([]*Lineage, error) {
	var out []*Lineage
	err := s.store.View(ctx, func(tx domain.Tx) error {
		var edges []*Lineage
		switch direction {
		case ParentOfLineages:
			edges = tx.ListParentOfLineages(instanceUUID)
		case ChildOfLineages:
			edges = tx.ListChildOfLineages(instanceUUID)
		}
		var fErr error
		out, fErr = domain.FilterLineageMembers(edges, direction, member, criteria)
		return fErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttachFile stores the payload in the blob store, creates a file instance
// describing it, and links it beneath the target with an "attached" edge.
func (s *Service) AttachFile(ctx context.Context, instanceUUID, filename string, r io.Reader, contentType string) (fileInst *Instance, err error) {
	defer s.observe(ctx, "attach_file", &err)()
	if s.blobs == nil {
		err = fmt.Errorf("no blob store configured")
		return nil, err
	}
	key := "instances/" + instanceUUID + "/" + filename
	info, putErr := s.blobs.Put(ctx, key, r, blob.PutOptions{ContentType: contentType})
	if putErr != nil {
		err = fmt.Errorf("store attachment: %w", putErr)
		return nil, err
	}
	err = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		target, ok := tx.GetInstance(instanceUUID)
		if !ok {
			return fmt.Errorf("instance %s not found", instanceUUID)
		}
		created, txErr := tx.InsertInstance(&domain.Instance{
			Base: domain.Base{
				Name:     filename,
				Category: "file",
				Type:     "file",
				Subtype:  "attachment",
				Version:  "1.0",
				Status:   "stored",
			},
			Discriminator: domain.DiscriminatorFileInstance,
			Config: domain.InstanceConfig{
				Properties: map[string]any{
					"blob_key":     info.Key,
					"filename":     filename,
					"size_bytes":   info.Size,
					"content_type": info.ContentType,
				},
			},
		})
		if txErr != nil {
			return txErr
		}
		if _, txErr = s.factory.LinkInstances(tx, target, created, "attached"); txErr != nil {
			return txErr
		}
		fileInst = created
		return nil
	})
	if err != nil {
		// The payload is orphaned if the transaction failed after upload.
		_ = s.blobs.Delete(ctx, key)
		return nil, err
	}
	s.logger.Info("file attached", "instance", instanceUUID, "key", info.Key, "size", info.Size)
	return fileInst, nil
}

// OpenFile streams a previously attached payload by blob key.
func (s *Service) OpenFile(ctx context.Context, key string) (io.ReadCloser, blob.Info, error) {
	if s.blobs == nil {
		return nil, blob.Info{}, fmt.Errorf("no blob store configured")
	}
	return s.blobs.Get(ctx, key)
}
