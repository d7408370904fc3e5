package cache

import (
	"context"
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
	"go.uber.org/zap"
)

// TieredTenantCache reads L1 then L2 and backfills L1 on an L2 hit.
// L2 failures degrade to a miss; the registry then reads the store.
type TieredTenantCache struct {
	l1     TenantCache
	l2     TenantCache
	l1TTL  time.Duration
	logger *zap.Logger
}

// NewTieredTenantCache combines l1 and l2. l1TTL bounds how long an L2 hit
// stays in L1 so deactivations propagate across instances.
func NewTieredTenantCache(l1, l2 TenantCache, l1TTL time.Duration, logger *zap.Logger) *TieredTenantCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredTenantCache{l1: l1, l2: l2, l1TTL: l1TTL, logger: logger}
}

// Get implements TenantCache
func (c *TieredTenantCache) Get(ctx context.Context, id string) (*tenant.Tenant, bool, error) {
	if rec, found, err := c.l1.Get(ctx, id); err == nil && found {
		return rec, true, nil
	}

	rec, found, err := c.l2.Get(ctx, id)
	if err != nil {
		c.logger.Warn("L2 tenant cache unavailable", zap.String("tenant_id", id), zap.Error(err))
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	// negative entries are not backfilled; their remaining TTL is unknown here
	if rec != nil {
		_ = c.l1.Set(ctx, id, rec, c.l1TTL)
	}
	return rec, true, nil
}

// Set writes both tiers
func (c *TieredTenantCache) Set(ctx context.Context, id string, rec *tenant.Tenant, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1TTL > 0 && c.l1TTL < l1TTL {
		l1TTL = c.l1TTL
	}
	_ = c.l1.Set(ctx, id, rec, l1TTL)
	if err := c.l2.Set(ctx, id, rec, ttl); err != nil {
		c.logger.Warn("failed to write L2 tenant cache", zap.String("tenant_id", id), zap.Error(err))
	}
	return nil
}

// Delete removes the entry from both tiers
func (c *TieredTenantCache) Delete(ctx context.Context, id string) error {
	_ = c.l1.Delete(ctx, id)
	return c.l2.Delete(ctx, id)
}
