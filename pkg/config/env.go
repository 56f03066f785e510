package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "FIELDSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
)

const (
	EnvAppEnv            = "FIELDSYNC_APP_ENV"
	EnvPort              = "FIELDSYNC_APP_PORT"
	EnvDBDriver          = "FIELDSYNC_DB_DRIVER"
	EnvDBDSN             = "FIELDSYNC_DB_DSN"
	EnvBackendDSN        = "FIELDSYNC_BACKEND_DSN"
	EnvRedisURL          = "FIELDSYNC_REDIS_URL"
	EnvRedisAddr         = "FIELDSYNC_REDIS_ADDR"
	EnvStoreBackend      = "FIELDSYNC_STORE_BACKEND"
	EnvSnapshotTTL       = "FIELDSYNC_SNAPSHOT_TTL"
	EnvSubmissionTimeout = "FIELDSYNC_SUBMISSION_TIMEOUT"
	EnvJWTSecret         = "FIELDSYNC_JWT_SECRET"
	EnvJWTIssuer         = "FIELDSYNC_JWT_ISSUER"
)
