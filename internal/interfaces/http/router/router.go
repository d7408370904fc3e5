package router

import (
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/infrastructure/telemetry"
	"github.com/erp/datacore/internal/interfaces/http/handler"
	"github.com/erp/datacore/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithGroupMiddleware adds middleware that runs only for the versioned API group
func WithGroupMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	if len(r.middleware) > 0 {
		api.Use(r.middleware...)
	}
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Config wires the data access API
type Config struct {
	ServiceName    string
	TenantHeader   string
	MaxBodySize    int64
	Tracing        bool
	TracerProvider trace.TracerProvider
	Meter          *telemetry.MeterProvider
	Logger         *zap.Logger

	Tenants     middleware.TenantResolver
	Collections handler.QueryService
	System      *handler.SystemHandler
}

// NewEngine builds the gin engine: request logging, recovery, tracing and
// metrics on every route, health checks without tenant, and the /api/v1 group
// behind tenant resolution.
func NewEngine(cfg Config) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName:    cfg.ServiceName,
			Enabled:        cfg.Tracing,
			TracerProvider: cfg.TracerProvider,
		}),
		middleware.HTTPMetrics(cfg.Meter),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	if cfg.System != nil {
		cfg.System.RegisterHealthChecks(engine)
	}

	tenantCfg := middleware.DefaultTenantConfig(cfg.Tenants)
	if cfg.TenantHeader != "" {
		tenantCfg.Header = cfg.TenantHeader
	}
	tenantCfg.Logger = log

	r := NewRouter(engine, WithGroupMiddleware(
		middleware.TenantContext(tenantCfg),
		middleware.SpanEnricher(),
	))
	r.Register(handler.NewCollectionHandler(cfg.Collections))
	if cfg.System != nil {
		r.Register(cfg.System)
	}
	r.Setup()
	return engine
}
