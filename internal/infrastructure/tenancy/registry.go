// Package tenancy routes requests to tenant databases: the registry resolves a
// tenant id to its record and the manager owns one live handle per tenant.
package tenancy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/cache"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL    = 30 * time.Second
	DefaultNegativeTTL = 5 * time.Second
)

// Resolver resolves tenant ids to servable tenant records
type Resolver interface {
	Resolve(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Registry resolves tenant ids through an optional cache in front of a Store.
// Records are served from cache for at most CacheTTL; unknown ids are
// remembered for NegativeTTL.
type Registry struct {
	store       tenant.Store
	cache       cache.TenantCache
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *zap.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithCache puts c in front of the store
func WithCache(c cache.TenantCache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithTTL sets how long found and missing records stay cached
func WithTTL(ttl, negativeTTL time.Duration) RegistryOption {
	return func(r *Registry) {
		r.ttl = ttl
		r.negativeTTL = negativeTTL
	}
}

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry reading from store
func NewRegistry(store tenant.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:       store,
		ttl:         DefaultCacheTTL,
		negativeTTL: DefaultNegativeTTL,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the record for id. Unknown ids fail with NOT_FOUND and
// deactivated tenants with INACTIVE; neither should be retried.
func (r *Registry) Resolve(ctx context.Context, id string) (*tenant.Tenant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.ErrInvalidInput.WithMessage("tenant id is required")
	}

	if r.cache != nil {
		rec, found, err := r.cache.Get(ctx, id)
		switch {
		case err != nil:
			r.logger.Warn("tenant cache lookup failed", zap.String("tenant_id", id), zap.Error(err))
		case found && rec == nil:
			return nil, notFound(id)
		case found:
			return servable(rec)
		}
	}

	rec, err := r.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			r.remember(ctx, id, nil, r.negativeTTL)
			return nil, notFound(id)
		}
		return nil, shared.ErrConnectionFailed.
			WithMessage("tenant registry unavailable").
			WithDetail("tenant_id", id).
			Wrap(err)
	}

	r.remember(ctx, id, rec, r.ttl)
	return servable(rec)
}

// Invalidate drops any cached record for id
func (r *Registry) Invalidate(ctx context.Context, id string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, id)
}

func (r *Registry) remember(ctx context.Context, id string, rec *tenant.Tenant, ttl time.Duration) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	if err := r.cache.Set(ctx, id, rec, ttl); err != nil {
		r.logger.Warn("tenant cache write failed", zap.String("tenant_id", id), zap.Error(err))
	}
}

func servable(rec *tenant.Tenant) (*tenant.Tenant, error) {
	if !rec.IsServable() {
		return nil, shared.ErrInactive.WithDetail("tenant_id", rec.ID)
	}
	return rec, nil
}

func notFound(id string) error {
	return shared.ErrNotFound.WithMessage("tenant not found").WithDetail("tenant_id", id)
}
