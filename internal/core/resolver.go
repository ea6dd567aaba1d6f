package core

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tapcore/pkg/domain"
)

// TemplateResolver looks templates up by code or EUID, caching only the
// resolved UUID. Every hit re-fetches the row inside the caller's transaction,
// so a cached entry pointing at a deleted template is detected and treated as
// a miss rather than served stale.
type TemplateResolver struct {
	byCode *gocache.Cache
	byEUID *gocache.Cache
	logger Logger
}

// ResolverOption customizes a TemplateResolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	ttl    time.Duration
	logger Logger
}

// WithResolverTTL bounds cache entry lifetime. Zero means entries never
// expire; staleness is still caught by re-validation.
func WithResolverTTL(ttl time.Duration) ResolverOption {
	return func(c *resolverConfig) { c.ttl = ttl }
}

// WithResolverLogger sets the resolver's logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(c *resolverConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTemplateResolver builds a resolver with empty caches.
func NewTemplateResolver(opts ...ResolverOption) *TemplateResolver {
	cfg := resolverConfig{ttl: gocache.NoExpiration, logger: NopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl == 0 {
		cfg.ttl = gocache.NoExpiration
	}
	cleanup := 10 * time.Minute
	return &TemplateResolver{
		byCode: gocache.New(cfg.ttl, cleanup),
		byEUID: gocache.New(cfg.ttl, cleanup),
		logger: cfg.logger,
	}
}

// ResolveByCode returns the live template with the given code. Malformed
// codes and codes without a live template resolve to (nil, false).
func (r *TemplateResolver) ResolveByCode(tx domain.Tx, rawCode string) (*domain.Template, bool) {
	code, err := domain.ParseTemplateCode(rawCode)
	if err != nil {
		r.logger.Warn("template code rejected", "code", rawCode, "error", err)
		return nil, false
	}
	if cached, ok := r.byCode.Get(string(code)); ok {
		if tpl, live := r.validate(tx, cached.(string)); live {
			return tpl, true
		}
		r.byCode.Delete(string(code))
	}
	tpl, ok := tx.ResolveTemplateByCode(code)
	if !ok {
		return nil, false
	}
	r.remember(tpl)
	return tpl, true
}

// ResolveByEUID returns the live template with the given EUID.
func (r *TemplateResolver) ResolveByEUID(tx domain.Tx, euid string) (*domain.Template, bool) {
	if euid == "" {
		return nil, false
	}
	if cached, ok := r.byEUID.Get(euid); ok {
		if tpl, live := r.validate(tx, cached.(string)); live {
			return tpl, true
		}
		r.byEUID.Delete(euid)
	}
	tpl, ok := tx.ResolveTemplateByEUID(euid)
	if !ok {
		return nil, false
	}
	r.remember(tpl)
	return tpl, true
}

// validate re-fetches a cached UUID and rejects rows deleted since caching.
func (r *TemplateResolver) validate(tx domain.Tx, uuid string) (*domain.Template, bool) {
	tpl, ok := tx.GetTemplate(uuid)
	if !ok || tpl.Deleted {
		r.logger.Debug("cached template entry stale", "uuid", uuid)
		return nil, false
	}
	return tpl, true
}

func (r *TemplateResolver) remember(tpl *domain.Template) {
	r.byCode.SetDefault(string(tpl.Code()), tpl.UUID)
	if tpl.EUID != "" {
		r.byEUID.SetDefault(tpl.EUID, tpl.UUID)
	}
}

// ListTemplates passes the filter through to the store.
func (r *TemplateResolver) ListTemplates(tx domain.Tx, filter domain.TemplateFilter) []*domain.Template {
	return tx.ListTemplates(filter)
}

// ClearCache drops every cached entry.
func (r *TemplateResolver) ClearCache() {
	r.byCode.Flush()
	r.byEUID.Flush()
}
