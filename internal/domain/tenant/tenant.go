// Package tenant models the routing record of a customer organization: which
// physical database holds its data and whether it may be served at all.
package tenant

import (
	"context"
	"strings"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

// Driver identifies the storage backend a tenant database lives on
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Tenant is the registry record for one customer organization.
// It is read-only to the core; onboarding creates it and deactivation only
// flips Active.
type Tenant struct {
	ID             string    `json:"id" validate:"required,max=64,tenantid"`
	Name           string    `json:"name" validate:"required,max=200"`
	DatabaseName   string    `json:"database_name" validate:"required,max=63"`
	Host           string    `json:"host" validate:"required_if=Driver postgres,max=253"`
	Port           int       `json:"port" validate:"omitempty,min=1,max=65535"`
	CredentialsRef string    `json:"credentials_ref" validate:"max=128"`
	Driver         Driver    `json:"driver" validate:"required,oneof=postgres sqlite"`
	Platform       bool      `json:"platform"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Coordinates is the routing decision derived from a tenant record
type Coordinates struct {
	TenantID       string
	Driver         Driver
	Host           string
	Port           int
	DatabaseName   string
	CredentialsRef string
}

// Store loads tenant records from wherever onboarding keeps them
type Store interface {
	FindByID(ctx context.Context, id string) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("tenantid", func(fl validator.FieldLevel) bool {
		return ValidID(fl.Field().String())
	})
	return v
}

// ValidID reports whether id is a syntactically acceptable tenant identifier
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Validate checks the record is complete enough to route to
func (t *Tenant) Validate() error {
	if err := validate.Struct(t); err != nil {
		return shared.ErrInvalidInput.WithMessage("invalid tenant record").
			WithDetail("tenant_id", t.ID).
			Wrap(err)
	}
	return nil
}

// Coordinates returns where the tenant's data lives. The decision depends on
// the record alone so it can be audited without touching the transport.
func (t *Tenant) Coordinates() Coordinates {
	port := t.Port
	if port == 0 && t.Driver == DriverPostgres {
		port = 5432
	}
	return Coordinates{
		TenantID:       t.ID,
		Driver:         t.Driver,
		Host:           strings.ToLower(t.Host),
		Port:           port,
		DatabaseName:   t.DatabaseName,
		CredentialsRef: t.CredentialsRef,
	}
}

// IsServable reports whether requests may be routed to this tenant
func (t *Tenant) IsServable() bool {
	return t.Active
}
