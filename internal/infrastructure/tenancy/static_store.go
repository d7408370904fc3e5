package tenancy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/config"
)

// StaticStore is an in-memory tenant.Store for deployments that declare
// their tenants in configuration, and for tests
type StaticStore struct {
	mu      sync.RWMutex
	records map[string]tenant.Tenant
}

// NewStaticStore creates a store holding records
func NewStaticStore(records ...tenant.Tenant) *StaticStore {
	s := &StaticStore{records: make(map[string]tenant.Tenant, len(records))}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return s
}

// StaticStoreFromConfig validates and loads the tenants declared in configuration
func StaticStoreFromConfig(records []config.TenantRecord) (*StaticStore, error) {
	s := NewStaticStore()
	now := time.Now().UTC()
	for _, r := range records {
		rec := tenant.Tenant{
			ID:             r.ID,
			Name:           r.Name,
			DatabaseName:   r.DatabaseName,
			Host:           r.Host,
			Port:           r.Port,
			CredentialsRef: r.CredentialsRef,
			Driver:         tenant.Driver(r.Driver),
			Active:         r.Active,
			UpdatedAt:      now,
		}
		if err := s.Put(rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put validates and stores rec, replacing any record with the same id
func (s *StaticStore) Put(rec tenant.Tenant) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

// FindByID implements tenant.Store
func (s *StaticStore) FindByID(_ context.Context, id string) (*tenant.Tenant, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.ErrNotFound.WithDetail("tenant_id", id)
	}
	return &rec, nil
}

// ListActive implements tenant.Store
func (s *StaticStore) ListActive(_ context.Context) ([]tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]tenant.Tenant, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Active {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
