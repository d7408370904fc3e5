package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTenantRepository reads tenant routing records from the platform database
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its identifier, active or not
func (r *GormTenantRepository) FindByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	var model models.TenantRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound.WithMessage("tenant not found").WithDetail("tenant_id", id)
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", id, err)
	}
	return model.ToDomain(), nil
}

// ListActive returns every active tenant ordered by id
func (r *GormTenantRepository) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	var rows []models.TenantRecordModel
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}

	out := make([]tenant.Tenant, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// Save inserts or updates a tenant record. Onboarding tooling and tests use
// it; the data access core itself only reads.
func (r *GormTenantRepository) Save(ctx context.Context, t *tenant.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	var model models.TenantRecordModel
	model.FromDomain(t)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("failed to save tenant %s: %w", t.ID, err)
	}
	return nil
}

// Deactivate flips a tenant to inactive. Records are never deleted.
func (r *GormTenantRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.TenantRecordModel{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate tenant %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound.WithMessage("tenant not found").WithDetail("tenant_id", id)
	}
	return nil
}
