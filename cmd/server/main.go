// Command server runs the multi-tenant data access API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/datacore/internal/application/dataaccess"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/cache"
	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/infrastructure/persistence"
	"github.com/erp/datacore/internal/infrastructure/persistence/tenantguard"
	"github.com/erp/datacore/internal/infrastructure/telemetry"
	"github.com/erp/datacore/internal/infrastructure/tenancy"
	"github.com/erp/datacore/internal/interfaces/http/handler"
	"github.com/erp/datacore/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting data access core",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("registry_source", cfg.Registry.Source),
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.ProfilingServer,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.ProfilingUser,
		BasicAuthPassword: cfg.Telemetry.ProfilingPassword,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && cfg.Telemetry.SpanProfiles {
		tp.EnableSpanProfiles()
	}
	poolMetrics, err := telemetry.NewPoolMetricsFromProvider(mp)
	if err != nil {
		log.Fatal("Failed to create pool metrics", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.ParseGormLevel(cfg.Database.LogLevel), cfg.Telemetry.DBSlowQueryThresh)

	// Tenant registry
	checks := map[string]handler.Pinger{}
	var (
		store      tenant.Store
		platformDB *persistence.Database
	)
	switch cfg.Registry.Source {
	case "static":
		static, err := tenancy.StaticStoreFromConfig(cfg.Registry.Tenants)
		if err != nil {
			log.Fatal("Invalid static tenant list", zap.Error(err))
		}
		store = static
		log.Info("Using static tenant registry", zap.Int("tenants", len(cfg.Registry.Tenants)))
	default:
		platformDB, err = persistence.NewDatabase(&cfg.Database, gormLog)
		if err != nil {
			log.Fatal("Failed to connect to platform database", zap.Error(err))
		}
		store = persistence.NewGormTenantRepository(platformDB.DB)
		checks["platform_db"] = platformDB
		log.Info("Platform database connected")
	}

	cacheHandle, err := cache.NewTenantCacheFactory(cfg.Registry, cfg.Redis, cache.WithLogger(log)).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create tenant cache", zap.Error(err))
	}
	if cacheHandle.Redis != nil {
		checks["redis"] = cacheHandle
	}

	registry := tenancy.NewRegistry(store,
		tenancy.WithCache(cacheHandle.Cache),
		tenancy.WithTTL(cfg.Registry.CacheTTL, cfg.Registry.NegativeTTL),
		tenancy.WithRegistryLogger(log),
	)

	// Connection pool
	dialer := tenancy.NewGormDialer(
		tenancy.NewEnvCredentialsResolver(cfg.Pool.CredentialsEnv, tenancy.Credentials{
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
		}),
		tenancy.DialerConfigFromPool(cfg.Pool),
		tenancy.WithGormLogger(gormLog),
		tenancy.WithInstrumenter(tenantguard.New("", log)),
		tenancy.WithInstrumenter(telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		}, log)),
	)
	pool := tenancy.NewManager(registry, dialer, tenancy.ConfigFromPool(cfg.Pool),
		tenancy.WithLogger(log),
		tenancy.WithObserver(poolMetrics),
	)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	pool.StartSweeper(sweepCtx)

	svc := dataaccess.NewService(registry, pool, dataaccess.Config{
		MaxDepth:   cfg.Filter.MaxDepth,
		MaxClauses: cfg.Filter.MaxClauses,
	}, dataaccess.WithLogger(log))

	engine := router.NewEngine(router.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		TenantHeader:   cfg.HTTP.TenantHeader,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		Tracing:        tp.IsEnabled(),
		TracerProvider: tp.Provider(),
		Meter:          mp,
		Logger:         log,
		Tenants:        registry,
		Collections:    svc,
		System:         handler.NewSystemHandler(version, pool, checks),
	})

	if cfg.Telemetry.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(telemetry.NewPoolCollector("datacore", func() telemetry.PoolSnapshot {
			s := pool.Stats()
			return telemetry.PoolSnapshot{
				Size:         s.Size,
				InUse:        s.InUse,
				Idle:         s.Idle,
				Dialing:      s.Dialing,
				MaxSize:      s.MaxSize,
				Dials:        s.Dials,
				DialFailures: s.DialFailures,
				Evictions:    s.Evictions,
				Hits:         s.Hits,
				Misses:       s.Misses,
			}
		}))
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stopSweeper()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("Tenant pool did not drain cleanly", zap.Error(err))
	}
	if err := cacheHandle.Close(); err != nil {
		log.Error("Error closing tenant cache", zap.Error(err))
	}
	if platformDB != nil {
		if err := platformDB.Close(); err != nil {
			log.Error("Error closing platform database", zap.Error(err))
		}
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	_ = profiler.Stop()
	if err := lp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
