package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TenantCacheFactory builds the registry cache from configuration
type TenantCacheFactory struct {
	redisConfig           config.RedisConfig
	registryConfig        config.RegistryConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	dial                  func(ctx context.Context, addr, password string, db int) (*redis.Client, error)
}

// TenantCacheFactoryOption is a functional option for configuring the factory
type TenantCacheFactoryOption func(*TenantCacheFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) TenantCacheFactoryOption {
	return func(f *TenantCacheFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the
// in-process cache alone. Default is true.
func WithInMemoryFallback(allow bool) TenantCacheFactoryOption {
	return func(f *TenantCacheFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewTenantCacheFactory creates a new factory
func NewTenantCacheFactory(registry config.RegistryConfig, redisCfg config.RedisConfig, opts ...TenantCacheFactoryOption) *TenantCacheFactory {
	f := &TenantCacheFactory{
		redisConfig:           redisCfg,
		registryConfig:        registry,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		dial:                  NewRedisClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TenantCacheHandle is a built cache plus the resources it owns
type TenantCacheHandle struct {
	Cache  TenantCache
	L1     *InMemoryTenantCache
	Redis  *redis.Client // nil when Redis is disabled or unavailable
	closed bool
}

// Close stops the L1 janitor and closes the Redis client
func (h *TenantCacheHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.L1.Close()
	if h.Redis != nil {
		return h.Redis.Close()
	}
	return nil
}

// Ping checks the Redis tier, when there is one
func (h *TenantCacheHandle) Ping(ctx context.Context) error {
	if h.Redis == nil {
		return nil
	}
	return h.Redis.Ping(ctx).Err()
}

// Create builds the in-process cache and, when enabled, tiers it over Redis.
// If Redis cannot be reached and fallback is allowed, the in-process cache
// is used alone.
func (f *TenantCacheFactory) Create(ctx context.Context) (*TenantCacheHandle, error) {
	l1 := NewInMemoryTenantCache(
		WithCleanupInterval(time.Minute),
		WithInMemoryLogger(f.logger),
	)
	h := &TenantCacheHandle{Cache: l1, L1: l1}

	if !f.registryConfig.RedisEnabled {
		f.logger.Info("Using in-memory tenant cache")
		return h, nil
	}

	client, err := f.dial(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err != nil {
		if !f.allowInMemoryFallback {
			l1.Close()
			return nil, fmt.Errorf("redis required for tenant cache but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory tenant cache. "+
			"Tenant changes will reach other instances only after the cache TTL.",
			zap.Error(err),
		)
		return h, nil
	}

	l2 := NewRedisTenantCache(client, "")
	h.Redis = client
	h.Cache = NewTieredTenantCache(l1, l2, f.registryConfig.CacheTTL, f.logger)
	f.logger.Info("Using tiered tenant cache",
		zap.String("redis_addr", f.redisConfig.Addr()),
		zap.Duration("l1_ttl", f.registryConfig.CacheTTL),
	)
	return h, nil
}
