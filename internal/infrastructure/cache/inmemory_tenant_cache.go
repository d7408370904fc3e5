package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
	"go.uber.org/zap"
)

const defaultCleanupInterval = 30 * time.Second

// InMemoryTenantCache is the process-local L1 tenant cache
type InMemoryTenantCache struct {
	entries         sync.Map // id -> *cacheEntry
	cleanupInterval time.Duration
	logger          *zap.Logger
	now             func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	rec       *tenant.Tenant
	expiresAt time.Time
}

// InMemoryOption configures an InMemoryTenantCache
type InMemoryOption func(*InMemoryTenantCache)

// WithCleanupInterval sets how often expired entries are purged
func WithCleanupInterval(d time.Duration) InMemoryOption {
	return func(c *InMemoryTenantCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithInMemoryLogger sets the logger for the cache
func WithInMemoryLogger(l *zap.Logger) InMemoryOption {
	return func(c *InMemoryTenantCache) {
		c.logger = l
	}
}

// withClock replaces time.Now in tests
func withClock(now func() time.Time) InMemoryOption {
	return func(c *InMemoryTenantCache) {
		c.now = now
	}
}

// NewInMemoryTenantCache creates the cache and starts its cleanup loop.
// Call Close to stop the loop.
func NewInMemoryTenantCache(opts ...InMemoryOption) *InMemoryTenantCache {
	c := &InMemoryTenantCache{
		cleanupInterval: defaultCleanupInterval,
		logger:          zap.NewNop(),
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanupLoop()
	return c
}

// Get implements TenantCache
func (c *InMemoryTenantCache) Get(_ context.Context, id string) (*tenant.Tenant, bool, error) {
	if v, ok := c.entries.Load(id); ok {
		e := v.(*cacheEntry)
		if c.now().Before(e.expiresAt) {
			c.hits.Add(1)
			return cloneTenant(e.rec), true, nil
		}
		c.entries.CompareAndDelete(id, v)
	}
	c.misses.Add(1)
	return nil, false, nil
}

// Set implements TenantCache
func (c *InMemoryTenantCache) Set(_ context.Context, id string, rec *tenant.Tenant, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.entries.Store(id, &cacheEntry{rec: cloneTenant(rec), expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete implements TenantCache
func (c *InMemoryTenantCache) Delete(_ context.Context, id string) error {
	c.entries.Delete(id)
	return nil
}

// Stats returns hit/miss counters and the current entry count
func (c *InMemoryTenantCache) Stats() Stats {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

// Close stops the cleanup loop
func (c *InMemoryTenantCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *InMemoryTenantCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if n := c.purgeExpired(); n > 0 {
				c.logger.Debug("purged expired tenant cache entries", zap.Int("count", n))
			}
		}
	}
}

func (c *InMemoryTenantCache) purgeExpired() int {
	now := c.now()
	n := 0
	c.entries.Range(func(k, v any) bool {
		if !now.Before(v.(*cacheEntry).expiresAt) {
			if c.entries.CompareAndDelete(k, v) {
				n++
			}
		}
		return true
	})
	return n
}
