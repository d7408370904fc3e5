package models

import (
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
)

// TenantRecordModel maps the platform "tenants" routing table
type TenantRecordModel struct {
	ID             string    `gorm:"type:varchar(64);primaryKey"`
	Name           string    `gorm:"type:varchar(200);not null"`
	Driver         string    `gorm:"type:varchar(20);not null;default:'postgres'"`
	Host           string    `gorm:"type:varchar(253)"`
	Port           int       `gorm:"not null;default:0"`
	DatabaseName   string    `gorm:"column:database_name;type:varchar(63);not null"`
	CredentialsRef string    `gorm:"column:credentials_ref;type:varchar(128)"`
	Platform       bool      `gorm:"not null"`
	Active         bool      `gorm:"not null;index"` // no default tag, gorm would skip false on create
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantRecordModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a tenant record
func (m *TenantRecordModel) ToDomain() *tenant.Tenant {
	return &tenant.Tenant{
		ID:             m.ID,
		Name:           m.Name,
		DatabaseName:   m.DatabaseName,
		Host:           m.Host,
		Port:           m.Port,
		CredentialsRef: m.CredentialsRef,
		Driver:         tenant.Driver(m.Driver),
		Platform:       m.Platform,
		Active:         m.Active,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the model from a tenant record
func (m *TenantRecordModel) FromDomain(t *tenant.Tenant) {
	m.ID = t.ID
	m.Name = t.Name
	m.DatabaseName = t.DatabaseName
	m.Host = t.Host
	m.Port = t.Port
	m.CredentialsRef = t.CredentialsRef
	m.Driver = string(t.Driver)
	m.Platform = t.Platform
	m.Active = t.Active
	m.UpdatedAt = t.UpdatedAt
}
