//go:build integration

package dataaccess_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/datacore/internal/application/dataaccess"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/erp/datacore/internal/infrastructure/migration"
	"github.com/erp/datacore/internal/infrastructure/persistence"
	"github.com/erp/datacore/internal/infrastructure/persistence/dynamic"
	"github.com/erp/datacore/internal/infrastructure/persistence/tenantguard"
	"github.com/erp/datacore/internal/infrastructure/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

const (
	pgUser     = "postgres"
	pgPassword = "admin123"
)

type pgFixture struct {
	svc  *dataaccess.Service
	mgr  *tenancy.Manager
	repo *persistence.GormTenantRepository
}

// newPGFixture starts one postgres container holding the migrated platform
// database plus one database per tenant.
func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("platform"),
		tcpostgres.WithUsername(pgUser),
		tcpostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	m, err := migration.NewFromURL(dsn, log)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	platform, err := persistence.NewDatabase(&config.DatabaseConfig{
		Host:     host,
		Port:     mapped.Int(),
		User:     pgUser,
		Password: pgPassword,
		DBName:   "platform",
		SSLMode:  "disable",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = platform.Close() })

	repo := persistence.NewGormTenantRepository(platform.DB)
	for _, id := range []string{"acme", "globex"} {
		require.NoError(t, platform.DB.Exec("CREATE DATABASE tenant_"+id).Error)
		require.NoError(t, repo.Save(ctx, &tenant.Tenant{
			ID:           id,
			Name:         id,
			Driver:       tenant.DriverPostgres,
			Host:         host,
			Port:         mapped.Int(),
			DatabaseName: "tenant_" + id,
			Active:       true,
		}))
	}

	registry := tenancy.NewRegistry(repo, tenancy.WithRegistryLogger(log))
	dialer := tenancy.NewGormDialer(
		tenancy.NewEnvCredentialsResolver("DATACORE_IT", tenancy.Credentials{User: pgUser, Password: pgPassword}),
		tenancy.DialerConfig{MaxOpenConns: 2},
		tenancy.WithInstrumenter(tenantguard.New("", log)),
	)
	poolCfg := tenancy.DefaultConfig()
	poolCfg.DialBackoff = 10 * time.Millisecond
	poolCfg.ShutdownGrace = time.Second
	mgr := tenancy.NewManager(registry, dialer, poolCfg, tenancy.WithLogger(log))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	seed := map[string]string{
		"acme":   `('acme', 'Ana', true, 150), ('acme', 'Bruno', true, 50), ('globex', 'Intruso', true, 1)`,
		"globex": `('globex', 'Gina', true, 10)`,
	}
	for id, rows := range seed {
		err := mgr.WithTenantConnection(ctx, id, func(ctx context.Context, conn *tenancy.ScopedConnection) error {
			db, err := conn.DB(ctx)
			if err != nil {
				return err
			}
			if err := db.Exec(`CREATE TABLE clientes (
				id SERIAL PRIMARY KEY,
				tenant_id VARCHAR(64) NOT NULL,
				nombre TEXT NOT NULL,
				activo BOOLEAN,
				saldo NUMERIC(18,2),
				deleted_at TIMESTAMPTZ
			)`).Error; err != nil {
				return err
			}
			return db.Exec(`INSERT INTO clientes (tenant_id, nombre, activo, saldo) VALUES ` + rows).Error
		})
		require.NoError(t, err)
	}

	svc := dataaccess.NewService(registry, mgr, dataaccess.Config{CaseInsensitiveText: true},
		dataaccess.WithLogger(log))
	return &pgFixture{svc: svc, mgr: mgr, repo: repo}
}

func nombres(items []map[string]any) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = fmt.Sprint(it["nombre"])
	}
	return out
}

func TestIntegration_PostgresTenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	f := newPGFixture(t)
	ctx := context.Background()
	byName := []dynamic.SortField{{Field: "nombre"}}

	res, err := f.svc.Query(ctx, dataaccess.QueryRequest{
		TenantID:   "acme",
		Collection: "clientes",
		Sort:       byName,
		WithTotal:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Bruno"}, nombres(res.Items))
	require.NotNil(t, res.Total)
	assert.Equal(t, int64(2), *res.Total)

	res, err = f.svc.Query(ctx, dataaccess.QueryRequest{
		TenantID:   "acme",
		Collection: "clientes",
		Filter: map[string]any{"or": []any{
			map[string]any{"field": "nombre", "op": "contains", "value": "INTR"},
			map[string]any{"field": "saldo", "op": "gte", "value": 100},
		}},
		Sort: byName,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, nombres(res.Items))

	res, err = f.svc.Query(ctx, dataaccess.QueryRequest{TenantID: "globex", Collection: "clientes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gina"}, nombres(res.Items))

	assert.Equal(t, 2, f.mgr.Stats().Size)
}

func TestIntegration_DeactivatedTenantIsRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	f := newPGFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Deactivate(ctx, "globex"))
	f.mgr.Invalidate(ctx, "globex")

	_, err := f.svc.Query(ctx, dataaccess.QueryRequest{TenantID: "globex", Collection: "clientes"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInactive))

	_, err = f.svc.Query(ctx, dataaccess.QueryRequest{TenantID: "acme", Collection: "clientes"})
	assert.NoError(t, err)
}
