package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all data access core configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Pool      PoolConfig
	Registry  RegistryConfig
	Filter    FilterConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds the platform database settings (the one holding the tenants table)
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // silent, error, warn, info
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TenantHeader   string
}

// PoolConfig holds the tenant connection pool settings
type PoolConfig struct {
	MaxSize         int           // tenant handles kept open at once
	MaxIdle         time.Duration // idle handles older than this are swept
	SweepInterval   time.Duration
	DialTimeout     time.Duration
	DialRetries     int // extra attempts after a failed dial
	DialBackoff     time.Duration
	ShutdownGrace   time.Duration
	MaxOpenConns    int // per tenant handle
	MaxIdleConns    int // per tenant handle
	ConnMaxLifetime time.Duration
	SSLMode         string
	CredentialsEnv  string // env var prefix for per-tenant credentials
}

// RegistryConfig holds tenant registry settings
type RegistryConfig struct {
	Source       string // database or static
	CacheTTL     time.Duration
	NegativeTTL  time.Duration
	RedisEnabled bool
	RedisTTL     time.Duration
	Tenants      []TenantRecord
}

// TenantRecord is a tenant declared in configuration for the static source
type TenantRecord struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DatabaseName   string `mapstructure:"database_name"`
	CredentialsRef string `mapstructure:"credentials_ref"`
	Active         bool   `mapstructure:"active"`
}

// FilterConfig holds filter engine limits
type FilterConfig struct {
	MaxDepth   int
	MaxClauses int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	SamplingRatio     float64
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
	PrometheusEnabled bool
	LogsEnabled       bool

	ProfilingEnabled  bool
	ProfilingServer   string
	ProfilingUser     string
	ProfilingPassword string
	SpanProfiles      bool
}

// Load reads configuration. Priority (highest to lowest):
// 1. Environment variables with DATACORE_ prefix (e.g. DATACORE_POOL_MAX_SIZE)
// 2. .env in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/datacore")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return build(v)
}

// LoadFile reads configuration from an explicit TOML file plus the environment
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DATACORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// zero is a meaningful retry count, so it cannot be defaulted after unmarshalling
	v.SetDefault("pool.dial_retries", 1)
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	return v
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TenantHeader:   v.GetString("http.tenant_header"),
		},
		Pool: PoolConfig{
			MaxSize:         v.GetInt("pool.max_size"),
			MaxIdle:         v.GetDuration("pool.max_idle"),
			SweepInterval:   v.GetDuration("pool.sweep_interval"),
			DialTimeout:     v.GetDuration("pool.dial_timeout"),
			DialRetries:     v.GetInt("pool.dial_retries"),
			DialBackoff:     v.GetDuration("pool.dial_backoff"),
			ShutdownGrace:   v.GetDuration("pool.shutdown_grace"),
			MaxOpenConns:    v.GetInt("pool.max_open_conns"),
			MaxIdleConns:    v.GetInt("pool.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("pool.conn_max_lifetime"),
			SSLMode:         v.GetString("pool.sslmode"),
			CredentialsEnv:  v.GetString("pool.credentials_env"),
		},
		Registry: RegistryConfig{
			Source:       v.GetString("registry.source"),
			CacheTTL:     v.GetDuration("registry.cache_ttl"),
			NegativeTTL:  v.GetDuration("registry.negative_ttl"),
			RedisEnabled: v.GetBool("registry.redis_enabled"),
			RedisTTL:     v.GetDuration("registry.redis_ttl"),
		},
		Filter: FilterConfig{
			MaxDepth:   v.GetInt("filter.max_depth"),
			MaxClauses: v.GetInt("filter.max_clauses"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			PrometheusEnabled: v.GetBool("telemetry.prometheus_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
			ProfilingUser:     v.GetString("telemetry.profiling_user"),
			ProfilingPassword: v.GetString("telemetry.profiling_password"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
	}

	if err := v.UnmarshalKey("registry.tenants", &cfg.Registry.Tenants); err != nil {
		return nil, fmt.Errorf("error reading registry.tenants: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "datacore"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "platform"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.TenantHeader == "" {
		cfg.HTTP.TenantHeader = "X-Tenant-ID"
	}

	if cfg.Pool.MaxSize == 0 {
		cfg.Pool.MaxSize = 100
	}
	if cfg.Pool.MaxIdle == 0 {
		cfg.Pool.MaxIdle = 10 * time.Minute
	}
	if cfg.Pool.SweepInterval == 0 {
		cfg.Pool.SweepInterval = time.Minute
	}
	if cfg.Pool.DialTimeout == 0 {
		cfg.Pool.DialTimeout = 5 * time.Second
	}
	if cfg.Pool.DialBackoff == 0 {
		cfg.Pool.DialBackoff = 200 * time.Millisecond
	}
	if cfg.Pool.ShutdownGrace == 0 {
		cfg.Pool.ShutdownGrace = 10 * time.Second
	}
	if cfg.Pool.MaxOpenConns == 0 {
		cfg.Pool.MaxOpenConns = 5
	}
	if cfg.Pool.MaxIdleConns == 0 {
		cfg.Pool.MaxIdleConns = 2
	}
	if cfg.Pool.ConnMaxLifetime == 0 {
		cfg.Pool.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Pool.SSLMode == "" {
		cfg.Pool.SSLMode = cfg.Database.SSLMode
	}
	if cfg.Pool.CredentialsEnv == "" {
		cfg.Pool.CredentialsEnv = "DATACORE_TENANT"
	}

	if cfg.Registry.Source == "" {
		cfg.Registry.Source = "database"
	}
	if cfg.Registry.CacheTTL == 0 {
		cfg.Registry.CacheTTL = 30 * time.Second
	}
	if cfg.Registry.NegativeTTL == 0 {
		cfg.Registry.NegativeTTL = 5 * time.Second
	}
	if cfg.Registry.RedisTTL == 0 {
		cfg.Registry.RedisTTL = 5 * time.Minute
	}

	if cfg.Filter.MaxDepth == 0 {
		cfg.Filter.MaxDepth = 10
	}
	if cfg.Filter.MaxClauses == 0 {
		cfg.Filter.MaxClauses = 200
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Pool.MaxSize < 1 {
		return fmt.Errorf("pool.max_size must be positive")
	}
	if c.Pool.DialRetries < 0 {
		return fmt.Errorf("pool.dial_retries cannot be negative")
	}
	if c.Pool.MaxIdleConns > c.Pool.MaxOpenConns {
		return fmt.Errorf("pool.max_idle_conns (%d) cannot exceed pool.max_open_conns (%d)",
			c.Pool.MaxIdleConns, c.Pool.MaxOpenConns)
	}
	if c.Registry.NegativeTTL > c.Registry.CacheTTL {
		return fmt.Errorf("registry.negative_ttl cannot exceed registry.cache_ttl")
	}
	switch c.Registry.Source {
	case "database":
	case "static":
		if len(c.Registry.Tenants) == 0 {
			return fmt.Errorf("registry.source=static requires registry.tenants")
		}
	default:
		return fmt.Errorf("registry.source must be database or static, got %q", c.Registry.Source)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be within [0, 1]")
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServer == "" {
		return fmt.Errorf("telemetry.profiling_server is required when profiling is enabled")
	}
	if c.Filter.MaxDepth < 1 || c.Filter.MaxClauses < 1 {
		return fmt.Errorf("filter limits must be positive")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" || c.Pool.SSLMode == "disable" {
			return fmt.Errorf("sslmode cannot be 'disable' in production")
		}
	}
	return nil
}

// DSN returns the platform database connection string with escaped values
func (d *DatabaseConfig) DSN() string {
	return PostgresDSN(d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// PostgresDSN builds a postgres URL, escaping user, password and database name
func PostgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   dbname,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
