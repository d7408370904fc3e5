package tenancy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/erp/datacore/internal/infrastructure/config"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLSTATE codes postgres uses to reject a login
const (
	sqlStateInvalidPassword      = "28P01"
	sqlStateInvalidAuthorization = "28000"
	sqlStateInvalidCatalog       = "3D000"
)

// Credentials are the login for one tenant database
type Credentials struct {
	User     string
	Password string
}

// CredentialsResolver turns a tenant's credentials reference into a login.
// Secrets never live in the tenant record itself.
type CredentialsResolver interface {
	Credentials(ctx context.Context, ref string) (Credentials, error)
}

// EnvCredentialsResolver reads <PREFIX>_<REF>_USER and <PREFIX>_<REF>_PASSWORD,
// with REF upper-cased and dashes replaced by underscores. Fallback is used
// when the variables are unset.
type EnvCredentialsResolver struct {
	Prefix   string
	Fallback Credentials
	lookup   func(string) (string, bool)
}

// NewEnvCredentialsResolver creates a resolver reading the process environment
func NewEnvCredentialsResolver(prefix string, fallback Credentials) *EnvCredentialsResolver {
	return &EnvCredentialsResolver{Prefix: prefix, Fallback: fallback, lookup: os.LookupEnv}
}

// Credentials implements CredentialsResolver
func (r *EnvCredentialsResolver) Credentials(_ context.Context, ref string) (Credentials, error) {
	if ref == "" {
		return r.Fallback, nil
	}
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	if r.Prefix != "" {
		key = r.Prefix + "_" + key
	}
	user, hasUser := lookup(key + "_USER")
	password, hasPassword := lookup(key + "_PASSWORD")
	if !hasUser && !hasPassword {
		if r.Fallback.User == "" {
			return Credentials{}, fmt.Errorf("no credentials for reference %q (expected %s_USER)", ref, key)
		}
		return r.Fallback, nil
	}
	if !hasUser {
		user = r.Fallback.User
	}
	return Credentials{User: user, Password: password}, nil
}

// Instrumenter attaches tracing or metrics callbacks to a freshly opened handle
type Instrumenter interface {
	Instrument(db *gorm.DB, tenantID string) error
}

// DialerConfig holds per-handle settings
type DialerConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
	SQLiteDir       string // relative sqlite database names resolve against this
}

// DialerConfigFromPool converts the pool section of the application config
func DialerConfigFromPool(p config.PoolConfig) DialerConfig {
	return DialerConfig{
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		SSLMode:         p.SSLMode,
	}
}

// GormDialerOption configures a GormDialer
type GormDialerOption func(*GormDialer)

// WithGormLogger routes statement logs of every handle through l
func WithGormLogger(l *logger.GormLogger) GormDialerOption {
	return func(d *GormDialer) {
		d.gormLogger = l
	}
}

// WithInstrumenter registers instrumentation applied to every handle
func WithInstrumenter(i Instrumenter) GormDialerOption {
	return func(d *GormDialer) {
		d.instrumenters = append(d.instrumenters, i)
	}
}

// GormDialer opens tenant handles with gorm over postgres or sqlite
type GormDialer struct {
	creds         CredentialsResolver
	cfg           DialerConfig
	gormLogger    *logger.GormLogger
	instrumenters []Instrumenter
}

// NewGormDialer creates a dialer resolving logins through creds
func NewGormDialer(creds CredentialsResolver, cfg DialerConfig, opts ...GormDialerOption) *GormDialer {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	d := &GormDialer{creds: creds, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements Dialer
func (d *GormDialer) Dial(ctx context.Context, c tenant.Coordinates) (Handle, error) {
	dialector, err := d.dialector(ctx, c)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	}
	if d.gormLogger != nil {
		gcfg.Logger = d.gormLogger.ForTenant(c.TenantID)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, classifyDialError(c, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, classifyDialError(c, err)
	}

	if d.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(d.cfg.MaxOpenConns)
	}
	if d.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(d.cfg.MaxIdleConns)
	}
	if d.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, classifyDialError(c, err)
	}

	for _, inst := range d.instrumenters {
		if err := inst.Instrument(db, c.TenantID); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to instrument tenant handle: %w", err)
		}
	}
	return &gormHandle{db: db}, nil
}

func (d *GormDialer) dialector(ctx context.Context, c tenant.Coordinates) (gorm.Dialector, error) {
	switch c.Driver {
	case tenant.DriverPostgres:
		login, err := d.creds.Credentials(ctx, c.CredentialsRef)
		if err != nil {
			return nil, shared.ErrConnectionFailed.
				WithMessage("tenant credentials unavailable").
				WithDetail("tenant_id", c.TenantID).
				Wrap(err)
		}
		dsn := config.PostgresDSN(c.Host, c.Port, login.User, login.Password, c.DatabaseName, d.cfg.SSLMode)
		return postgres.Open(dsn), nil
	case tenant.DriverSQLite:
		return sqlite.Open(d.sqlitePath(c.DatabaseName)), nil
	default:
		return nil, shared.ErrInvalidInput.
			WithMessage("unsupported tenant driver").
			WithDetail("tenant_id", c.TenantID).
			WithDetail("driver", string(c.Driver))
	}
}

func (d *GormDialer) sqlitePath(name string) string {
	if d.cfg.SQLiteDir == "" || name == ":memory:" || strings.HasPrefix(name, "file:") || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.cfg.SQLiteDir, name)
}

// classifyDialError maps driver failures onto CONNECTION_FAILED, keeping the
// SQLSTATE when the server rejected the login
func classifyDialError(c tenant.Coordinates, err error) error {
	de := shared.ErrConnectionFailed.WithDetail("tenant_id", c.TenantID)

	code := ""
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}

	switch code {
	case sqlStateInvalidPassword, sqlStateInvalidAuthorization:
		de = de.WithMessage("tenant database rejected credentials").WithDetail("sqlstate", code)
	case sqlStateInvalidCatalog:
		de = de.WithMessage("tenant database does not exist").WithDetail("sqlstate", code)
	case "":
		if errors.Is(err, context.DeadlineExceeded) {
			de = de.WithMessage("timed out connecting to tenant database")
		}
	default:
		de = de.WithDetail("sqlstate", code)
	}
	return de.Wrap(err)
}

type gormHandle struct {
	db *gorm.DB
}

func (h *gormHandle) DB() *gorm.DB {
	return h.db
}

func (h *gormHandle) Ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *gormHandle) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
