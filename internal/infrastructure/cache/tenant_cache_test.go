package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func acme() *tenant.Tenant {
	return &tenant.Tenant{ID: "acme", Name: "Acme", DatabaseName: "db_acme", Host: "db-1", Driver: tenant.DriverPostgres, Active: true}
}

func TestInMemoryTenantCache_HitMissExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewInMemoryTenantCache(withClock(clock.Now), WithCleanupInterval(time.Hour))
	defer c.Close()
	ctx := context.Background()

	_, found, err := c.Get(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "acme", acme(), 30*time.Second))
	rec, found, err := c.Get(ctx, "acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "db_acme", rec.DatabaseName)

	clock.Advance(31 * time.Second)
	_, found, _ = c.Get(ctx, "acme")
	assert.False(t, found)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate(), 0.0001)
}

func TestInMemoryTenantCache_NegativeEntry(t *testing.T) {
	c := NewInMemoryTenantCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ghost", nil, 5*time.Second))
	rec, found, err := c.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, rec)
}

func TestInMemoryTenantCache_ReturnsCopies(t *testing.T) {
	c := NewInMemoryTenantCache()
	defer c.Close()
	ctx := context.Background()

	src := acme()
	require.NoError(t, c.Set(ctx, "acme", src, time.Minute))
	src.Active = false

	rec, _, _ := c.Get(ctx, "acme")
	assert.True(t, rec.Active)
	rec.Host = "tampered"

	again, _, _ := c.Get(ctx, "acme")
	assert.Equal(t, "db-1", again.Host)
}

func TestInMemoryTenantCache_PurgeAndDelete(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewInMemoryTenantCache(withClock(clock.Now), WithCleanupInterval(time.Hour))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", acme(), time.Second))
	require.NoError(t, c.Set(ctx, "b", acme(), time.Minute))
	require.NoError(t, c.Set(ctx, "c", acme(), 0), "zero ttl is not cached")
	assert.Equal(t, 2, c.Stats().Entries)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.purgeExpired())

	require.NoError(t, c.Delete(ctx, "b"))
	assert.Equal(t, 0, c.Stats().Entries)

	c.Close()
	c.Close()
}

func TestTenantEntryEncoding(t *testing.T) {
	data, err := encodeTenantEntry(acme())
	require.NoError(t, err)
	rec, err := decodeTenantEntry(data)
	require.NoError(t, err)
	assert.Equal(t, acme(), rec)

	data, err = encodeTenantEntry(nil)
	require.NoError(t, err)
	rec, err = decodeTenantEntry(data)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = decodeTenantEntry([]byte("not json"))
	assert.Error(t, err)
}

// mapCache is a TenantCache backed by a plain map, optionally failing
type mapCache struct {
	mu      sync.Mutex
	entries map[string]*tenant.Tenant
	ttls    map[string]time.Duration
	fail    error
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*tenant.Tenant{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(_ context.Context, id string) (*tenant.Tenant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, false, m.fail
	}
	rec, ok := m.entries[id]
	return cloneTenant(rec), ok, nil
}

func (m *mapCache) Set(_ context.Context, id string, rec *tenant.Tenant, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.entries[id] = cloneTenant(rec)
	m.ttls[id] = ttl
	return nil
}

func (m *mapCache) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return m.fail
}

func TestTieredTenantCache(t *testing.T) {
	ctx := context.Background()

	t.Run("backfills L1 from L2", func(t *testing.T) {
		l1, l2 := newMapCache(), newMapCache()
		l2.entries["acme"] = acme()
		c := NewTieredTenantCache(l1, l2, 10*time.Second, nil)

		rec, found, err := c.Get(ctx, "acme")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "acme", rec.ID)
		assert.Contains(t, l1.entries, "acme")
		assert.Equal(t, 10*time.Second, l1.ttls["acme"])
	})

	t.Run("negative L2 entry is not backfilled", func(t *testing.T) {
		l1, l2 := newMapCache(), newMapCache()
		l2.entries["ghost"] = nil
		c := NewTieredTenantCache(l1, l2, 10*time.Second, nil)

		rec, found, err := c.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, rec)
		assert.NotContains(t, l1.entries, "ghost")
	})

	t.Run("L2 failure degrades to miss", func(t *testing.T) {
		l1, l2 := newMapCache(), newMapCache()
		l2.fail = errors.New("connection refused")
		c := NewTieredTenantCache(l1, l2, time.Second, nil)

		_, found, err := c.Get(ctx, "acme")
		require.NoError(t, err)
		assert.False(t, found)
		assert.NoError(t, c.Set(ctx, "acme", acme(), time.Minute))
		assert.Contains(t, l1.entries, "acme")
	})

	t.Run("set caps L1 ttl and delete clears both", func(t *testing.T) {
		l1, l2 := newMapCache(), newMapCache()
		c := NewTieredTenantCache(l1, l2, 5*time.Second, nil)

		require.NoError(t, c.Set(ctx, "acme", acme(), time.Minute))
		assert.Equal(t, 5*time.Second, l1.ttls["acme"])
		assert.Equal(t, time.Minute, l2.ttls["acme"])

		require.NoError(t, c.Delete(ctx, "acme"))
		assert.Empty(t, l1.entries)
		assert.Empty(t, l2.entries)
	})
}
