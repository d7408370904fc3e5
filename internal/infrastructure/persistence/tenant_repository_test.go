package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockTenantRepository creates a GormTenantRepository over a mocked postgres connection
func newMockTenantRepository(t *testing.T) (*GormTenantRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewGormTenantRepository(gormDB), mock, mockDB
}

// newSQLiteTenantRepository creates a repository over a private in-memory sqlite database
func newSQLiteTenantRepository(t *testing.T) *GormTenantRepository {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.TenantRecordModel{}))
	return NewGormTenantRepository(db)
}

func TestGormTenantRepository_FindByID(t *testing.T) {
	t.Run("maps row to record", func(t *testing.T) {
		repo, mock, mockDB := newMockTenantRepository(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"id", "name", "driver", "host", "port", "database_name", "credentials_ref", "platform", "active"}).
			AddRow("acme", "Acme", "postgres", "db-1.internal", 5433, "db_acme", "acme", false, true)
		mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs("acme", 1).
			WillReturnRows(rows)

		rec, err := repo.FindByID(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, "db_acme", rec.DatabaseName)
		assert.Equal(t, 5433, rec.Port)
		assert.Equal(t, tenant.DriverPostgres, rec.Driver)
		assert.True(t, rec.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing tenant is NOT_FOUND", func(t *testing.T) {
		repo, mock, mockDB := newMockTenantRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE id = \$1`).
			WithArgs("ghost", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.FindByID(context.Background(), "ghost")
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
		var de *shared.DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "ghost", de.Details["tenant_id"])
	})

	t.Run("database failure is wrapped", func(t *testing.T) {
		repo, mock, mockDB := newMockTenantRepository(t)
		defer mockDB.Close()

		boom := errors.New("connection reset")
		mock.ExpectQuery(`SELECT \* FROM "tenants"`).WillReturnError(boom)

		_, err := repo.FindByID(context.Background(), "acme")
		assert.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, shared.ErrNotFound))
	})
}

func TestGormTenantRepository_SaveListDeactivate(t *testing.T) {
	repo := newSQLiteTenantRepository(t)
	ctx := context.Background()

	records := []*tenant.Tenant{
		{ID: "globex", Name: "Globex", Driver: tenant.DriverSQLite, DatabaseName: "globex.db", Active: true},
		{ID: "acme", Name: "Acme", Driver: tenant.DriverPostgres, Host: "db-1", DatabaseName: "db_acme", Active: true},
		{ID: "dormant", Name: "Dormant", Driver: tenant.DriverSQLite, DatabaseName: "dormant.db", Active: false},
	}
	for _, r := range records {
		require.NoError(t, repo.Save(ctx, r))
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "acme", active[0].ID)
	assert.Equal(t, "globex", active[1].ID)

	require.NoError(t, repo.Deactivate(ctx, "acme"))
	rec, err := repo.FindByID(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, rec.Active, "deactivation keeps the record")

	err = repo.Deactivate(ctx, "ghost")
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	err = repo.Save(ctx, &tenant.Tenant{ID: "bad id", Name: "x", Driver: tenant.DriverSQLite, DatabaseName: "x"})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestGormTenantRepository_SaveKeepsInactiveFlag(t *testing.T) {
	repo := newSQLiteTenantRepository(t)
	ctx := context.Background()

	dormant := &tenant.Tenant{ID: "dormant", Name: "Dormant", Driver: tenant.DriverSQLite, DatabaseName: "dormant.db", Active: false}
	require.NoError(t, repo.Save(ctx, dormant))

	rec, err := repo.FindByID(ctx, "dormant")
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.False(t, rec.IsServable())

	dormant.Active = true
	require.NoError(t, repo.Save(ctx, dormant))
	rec, err = repo.FindByID(ctx, "dormant")
	require.NoError(t, err)
	assert.True(t, rec.Active)

	dormant.Active = false
	require.NoError(t, repo.Save(ctx, dormant))
	rec, err = repo.FindByID(ctx, "dormant")
	require.NoError(t, err)
	assert.False(t, rec.Active, "updates write false too")
}
