package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Backend      BackendConfig
	Redis        RedisConfig
	Store        StoreConfig
	Snapshot     SnapshotConfig
	Submission   SubmissionConfig
	SyncQueue    SyncQueueConfig
	Cron         CronConfig
	Connectivity ConnectivityConfig
	JWT          JWTConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FIELDSYNC_APP_ENV" default:"dev"`
	Port         string `envconfig:"FIELDSYNC_APP_PORT" default:"8765"`
	LogLevel     string `envconfig:"FIELDSYNC_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"FIELDSYNC_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"FIELDSYNC_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"FIELDSYNC_AUTO_MIGRATE" default:"true"`
	// AllowedOrigins lists the webview origins allowed to call the local API.
	AllowedOrigins []string `envconfig:"FIELDSYNC_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// DBConfig describes the device-local database holding the KV store and sync queue.
type DBConfig struct {
	Driver string `envconfig:"FIELDSYNC_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"FIELDSYNC_DB_DSN" default:"file:fieldsync.db?_busy_timeout=5000"`

	MaxOpenConns    int           `envconfig:"FIELDSYNC_DB_MAX_OPEN_CONNS" default:"1"`
	MaxIdleConns    int           `envconfig:"FIELDSYNC_DB_MAX_IDLE_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"FIELDSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIELDSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// BackendConfig describes the remote data store reached by the backend service.
type BackendConfig struct {
	Driver string `envconfig:"FIELDSYNC_BACKEND_DRIVER" default:"postgres"`
	DSN    string `envconfig:"FIELDSYNC_BACKEND_DSN"`

	MaxOpenConns    int           `envconfig:"FIELDSYNC_BACKEND_MAX_OPEN_CONNS" default:"4"`
	MaxIdleConns    int           `envconfig:"FIELDSYNC_BACKEND_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"FIELDSYNC_BACKEND_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"FIELDSYNC_BACKEND_CONN_MAX_IDLE_TIME" default:"5m"`
}

// DB returns the backend settings in the shape the db client expects.
func (b BackendConfig) DB() DBConfig {
	return DBConfig{
		Driver:          b.Driver,
		DSN:             b.DSN,
		MaxOpenConns:    b.MaxOpenConns,
		MaxIdleConns:    b.MaxIdleConns,
		ConnMaxLifetime: b.ConnMaxLifetime,
		ConnMaxIdleTime: b.ConnMaxIdleTime,
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"FIELDSYNC_REDIS_URL"`
	Address      string        `envconfig:"FIELDSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"FIELDSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIELDSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIELDSYNC_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"FIELDSYNC_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"FIELDSYNC_REDIS_DIAL_TIMEOUT" default:"2s"`
	ReadTimeout  time.Duration `envconfig:"FIELDSYNC_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"FIELDSYNC_REDIS_WRITE_TIMEOUT" default:"2s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type StoreConfig struct {
	Backend string `envconfig:"FIELDSYNC_STORE_BACKEND" default:"sql"`
}

type SnapshotConfig struct {
	TTL time.Duration `envconfig:"FIELDSYNC_SNAPSHOT_TTL" default:"168h"`
}

type SubmissionConfig struct {
	Timeout time.Duration `envconfig:"FIELDSYNC_SUBMISSION_TIMEOUT" default:"10s"`
}

type SyncQueueConfig struct {
	BatchSize      int `envconfig:"FIELDSYNC_SYNC_BATCH_SIZE" default:"20"`
	PollIntervalMS int `envconfig:"FIELDSYNC_SYNC_POLL_MS" default:"2000"`
	MaxAttempts    int `envconfig:"FIELDSYNC_SYNC_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"FIELDSYNC_SYNC_RETENTION_DAYS" default:"14"`
	// IdempotencyTTL bounds how long processed operation ids are remembered.
	IdempotencyTTL time.Duration `envconfig:"FIELDSYNC_SYNC_IDEMPOTENCY_TTL" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FIELDSYNC_CRON_INTERVAL" default:"6h"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `envconfig:"FIELDSYNC_CONNECTIVITY_PROBE_INTERVAL" default:"15s"`
	ProbeTimeout  time.Duration `envconfig:"FIELDSYNC_CONNECTIVITY_PROBE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret string `envconfig:"FIELDSYNC_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"FIELDSYNC_JWT_ISSUER" required:"true"`
	// ExpirationMinutes applies to tokens minted by the agent for local tooling.
	ExpirationMinutes int `envconfig:"FIELDSYNC_JWT_EXPIRATION_MINUTES" default:"720"`
}

func (c *Config) validate() error {
	switch strings.ToLower(c.DB.Driver) {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%s must be one of %s, %s", EnvDBDriver, DriverSQLite, DriverPostgres)
	}
	switch strings.ToLower(c.Store.Backend) {
	case StoreMemory, StoreSQL:
	case StoreRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("%s=%s requires %s or %s", EnvStoreBackend, StoreRedis, EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvStoreBackend, StoreMemory, StoreSQL, StoreRedis)
	}
	if c.Snapshot.TTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvSnapshotTTL)
	}
	if c.Submission.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvSubmissionTimeout)
	}
	return nil
}
