package tenancy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/cache"
	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts lookups that reach the backing store
type countingStore struct {
	*StaticStore
	finds atomic.Int64
	err   error
}

func (s *countingStore) FindByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	s.finds.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.StaticStore.FindByID(ctx, id)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*tenant.Tenant, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}
func (brokenCache) Set(context.Context, string, *tenant.Tenant, time.Duration) error {
	return errors.New("redis: connection refused")
}
func (brokenCache) Delete(context.Context, string) error { return nil }

func TestRegistry_ResolveCachesRecords(t *testing.T) {
	store := &countingStore{StaticStore: NewStaticStore(testTenant("acme", true))}
	c := cache.NewInMemoryTenantCache()
	defer c.Close()
	r := NewRegistry(store, WithCache(c))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := r.Resolve(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "db_acme", rec.DatabaseName)
	}
	assert.Equal(t, int64(1), store.finds.Load())

	require.NoError(t, r.Invalidate(ctx, "acme"))
	_, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.finds.Load())
}

func TestRegistry_NegativeCaching(t *testing.T) {
	store := &countingStore{StaticStore: NewStaticStore()}
	c := cache.NewInMemoryTenantCache()
	defer c.Close()
	r := NewRegistry(store, WithCache(c), WithTTL(time.Minute, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, "ghost")
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	}
	assert.Equal(t, int64(1), store.finds.Load())

	// onboarding the tenant becomes visible once the negative entry is dropped
	require.NoError(t, store.Put(testTenant("ghost", true)))
	_, err := r.Resolve(ctx, "ghost")
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	require.NoError(t, r.Invalidate(ctx, "ghost"))
	rec, err := r.Resolve(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", rec.ID)
}

func TestRegistry_ResolveErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive tenant", func(t *testing.T) {
		r := NewRegistry(NewStaticStore(testTenant("dormida", false)))
		_, err := r.Resolve(ctx, "dormida")
		assert.True(t, errors.Is(err, shared.ErrInactive))
		assert.False(t, shared.IsRetryable(err))
	})

	t.Run("empty id", func(t *testing.T) {
		r := NewRegistry(NewStaticStore())
		_, err := r.Resolve(ctx, "")
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("store unavailable", func(t *testing.T) {
		store := &countingStore{StaticStore: NewStaticStore(), err: errors.New("dial tcp: connection refused")}
		r := NewRegistry(store)
		_, err := r.Resolve(ctx, "acme")
		assert.True(t, errors.Is(err, shared.ErrConnectionFailed))
		assert.True(t, shared.IsRetryable(err))
	})

	t.Run("broken cache falls back to store", func(t *testing.T) {
		store := &countingStore{StaticStore: NewStaticStore(testTenant("acme", true))}
		r := NewRegistry(store, WithCache(brokenCache{}))
		rec, err := r.Resolve(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", rec.ID)
	})
}

func TestStaticStore(t *testing.T) {
	ctx := context.Background()

	s, err := StaticStoreFromConfig([]config.TenantRecord{
		{ID: "globex", Name: "Globex", DatabaseName: "globex.db", Driver: "sqlite", Active: true},
		{ID: "acme", Name: "Acme", DatabaseName: "db_acme", Host: "db-1", Driver: "postgres", Active: true},
		{ID: "dormida", Name: "Dormida", DatabaseName: "dormida.db", Driver: "sqlite"},
	})
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "acme", active[0].ID)
	assert.Equal(t, "globex", active[1].ID)

	rec, err := s.FindByID(ctx, "acme")
	require.NoError(t, err)
	rec.DatabaseName = "mutated"
	again, err := s.FindByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "db_acme", again.DatabaseName, "callers get copies")

	_, err = s.FindByID(ctx, "ghost")
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = StaticStoreFromConfig([]config.TenantRecord{{ID: "bad id", Name: "x", DatabaseName: "x", Driver: "sqlite"}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}
