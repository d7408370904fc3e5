package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tenant.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.Exec(`CREATE TABLE notas (id INTEGER PRIMARY KEY, tenant_id TEXT, texto TEXT)`).Error)
	return db
}

func setupTracerWithRecorder() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func hasAttr(attrs []attribute.KeyValue, kv attribute.KeyValue) bool {
	for _, a := range attrs {
		if a.Key == kv.Key && a.Value == kv.Value {
			return true
		}
	}
	return false
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracerWithRecorder()

	p := NewDBTracingPlugin(DBTracingConfig{TracerProvider: tp}, nil)
	require.NoError(t, p.Instrument(db, "acme"))

	var rows []map[string]any
	require.NoError(t, db.Table("notas").Find(&rows).Error)
	assert.Empty(t, recorder.Ended())
}

func TestDBTracingPlugin_SpansCarryTenant(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracerWithRecorder()

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, TracerProvider: tp}, zap.NewNop())
	require.NoError(t, p.Instrument(db, "acme"))

	require.NoError(t, db.Table("notas").Create(map[string]any{"tenant_id": "acme", "texto": "hola"}).Error)
	var rows []map[string]any
	require.NoError(t, db.Table("notas").Where(map[string]any{"tenant_id": "acme"}).Find(&rows).Error)
	assert.Len(t, rows, 1)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	for _, s := range spans {
		assert.True(t, hasAttr(s.Attributes(), AttrTenantID.String("acme")), "span %q lacks tenant_id", s.Name())
	}
}

func TestDBTracingPlugin_ReportsSlowQueries(t *testing.T) {
	db := setupTestDB(t)
	tp, _ := setupTracerWithRecorder()
	core, logs := observer.New(zap.WarnLevel)

	p := NewDBTracingPlugin(DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		TracerProvider:  tp,
	}, zap.New(core))
	require.NoError(t, p.Instrument(db, "acme"))

	var rows []map[string]any
	require.NoError(t, db.Table("notas").Find(&rows).Error)

	slow := logs.FilterMessage("Slow tenant query").All()
	require.NotEmpty(t, slow)
	assert.Equal(t, "acme", slow[0].ContextMap()["tenant_id"])
	assert.Equal(t, "notas", slow[0].ContextMap()["table"])
}

func TestDBTracingPlugin_DBSystem(t *testing.T) {
	db := setupTestDB(t)

	assert.Equal(t, "sqlite", NewDBTracingPlugin(DBTracingConfig{}, nil).dbSystem(db))
	assert.Equal(t, "postgresql", NewDBTracingPlugin(DBTracingConfig{DBSystem: "postgresql"}, nil).dbSystem(db))
}
