// Package dataaccess is the entry point request handlers use to reach tenant
// data: resolve the tenant, borrow its connection, bind a collection and run
// a caller filter that has been merged with the mandatory scope.
package dataaccess

import (
	"context"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/infrastructure/persistence/datascope"
	"github.com/erp/datacore/internal/infrastructure/persistence/dynamic"
	"github.com/erp/datacore/internal/infrastructure/tenancy"
	"go.uber.org/zap"
)

// ConnectionPool lends tenant connections for the duration of a callback
type ConnectionPool interface {
	WithTenantConnection(ctx context.Context, id string, fn func(ctx context.Context, conn *tenancy.ScopedConnection) error) error
}

// Config holds filter limits applied to caller expressions
type Config struct {
	MaxDepth            int
	MaxClauses          int
	CaseInsensitiveText bool
}

// Service runs the per-request data access flow
type Service struct {
	registry tenancy.Resolver
	pool     ConnectionPool
	shapes   map[string]*dynamic.Shape
	cfg      Config
	logger   *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithShapes declares collection shapes. Bound collections with a declared
// shape validate writes and treat unknown filter fields as absent.
func WithShapes(shapes map[string]*dynamic.Shape) Option {
	return func(s *Service) {
		for name, shape := range shapes {
			s.shapes[name] = shape
		}
	}
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a new Service
func NewService(registry tenancy.Resolver, pool ConnectionPool, cfg Config, opts ...Option) *Service {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = filter.DefaultMaxDepth
	}
	if cfg.MaxClauses <= 0 {
		cfg.MaxClauses = filter.DefaultMaxClauses
	}
	s := &Service{
		registry: registry,
		pool:     pool,
		shapes:   make(map[string]*dynamic.Shape),
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveTenant returns the routing record of a servable tenant
func (s *Service) ResolveTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.registry.Resolve(ctx, id)
}

// WithTenantConnection borrows the tenant's connection for the duration of fn
func (s *Service) WithTenantConnection(ctx context.Context, id string, fn func(ctx context.Context, conn *tenancy.ScopedConnection) error) error {
	return s.pool.WithTenantConnection(ctx, id, fn)
}

// BindCollection binds name on conn. A nil shape falls back to the declared one.
func (s *Service) BindCollection(conn dynamic.Connection, name string, shape *dynamic.Shape) (*dynamic.Collection, error) {
	if shape == nil {
		shape = s.shapes[name]
	}
	return dynamic.Bind(conn, name, shape)
}

// ParseFilter parses a decoded JSON filter with the configured limits. A nil
// filter means "no caller conditions" and yields a nil expression.
func (s *Service) ParseFilter(raw any) (*filter.Expression, error) {
	if raw == nil {
		return nil, nil
	}
	return filter.Parse(raw, s.parseOptions()...)
}

// ParseFilterJSON is ParseFilter for an undecoded body
func (s *Service) ParseFilterJSON(data []byte) (*filter.Expression, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return filter.ParseJSON(data, s.parseOptions()...)
}

func (s *Service) parseOptions() []filter.Option {
	opts := []filter.Option{
		filter.WithMaxDepth(s.cfg.MaxDepth),
		filter.WithMaxClauses(s.cfg.MaxClauses),
	}
	if s.cfg.CaseInsensitiveText {
		opts = append(opts, filter.WithCaseInsensitiveText())
	}
	return opts
}

// BuildQuery merges expr with the mandatory scope
func (s *Service) BuildQuery(expr *filter.Expression, scope filter.Scope) (*filter.CombinedPredicate, error) {
	return filter.MergeWithScope(expr, scope)
}

// ScopeFromContext builds the scope for collection from the tenant and user
// the auth middleware stored in ctx, plus the data-scope rules of the user's
// roles. Collections whose shape declares deleted_at hide soft-deleted rows.
func (s *Service) ScopeFromContext(ctx context.Context, collection string) (filter.Scope, error) {
	tenantID := logger.TenantID(ctx)
	if tenantID == "" {
		return filter.Scope{}, shared.ErrInvalidInput.WithMessage("no tenant in request context")
	}

	scope := filter.Scope{TenantID: tenantID}
	if shape := s.shapes[collection]; shape != nil {
		if _, ok := shape.Fields[filter.DefaultDeletedField]; ok {
			scope.ExcludeDeleted = true
		}
	}
	if err := datascope.FromContext(ctx).Apply(&scope, collection, logger.UserID(ctx)); err != nil {
		return filter.Scope{}, err
	}
	return scope, nil
}
