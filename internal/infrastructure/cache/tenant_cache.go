// Package cache holds the tenant record caches the registry reads through:
// an in-process L1, a Redis-backed L2 shared by instances, and a tiered
// combination of both.
package cache

import (
	"context"
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
)

// TenantCache stores registry lookups by tenant id. A cached nil record is a
// negative entry: the tenant is known not to exist.
type TenantCache interface {
	// Get returns found=false on a cache miss
	Get(ctx context.Context, id string) (rec *tenant.Tenant, found bool, err error)
	Set(ctx context.Context, id string, rec *tenant.Tenant, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Stats reports cache effectiveness
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate returns hits / (hits + misses), or 0 when there were no lookups
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func cloneTenant(t *tenant.Tenant) *tenant.Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
