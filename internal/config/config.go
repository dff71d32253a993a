// Package config provides centralized configuration management for the pipeline.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Reports  ReportConfig
	Lock     LockConfig
	Notify   NotifyConfig
	Schedule ScheduleConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql (default: sqlite)
	Driver string `env:"DB_DRIVER" default:"sqlite"`

	// URL is the connection string or, for sqlite, the database file path.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" default:"db/dailydrop.db"`

	// MaxOpenConns caps the pool; ignored for sqlite (default: 20)
	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" default:"20"`

	// MaxIdleConns is the number of idle connections kept (default: 4)
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" default:"4"`

	// ConnMaxLifetime is the maximum lifetime of a connection (default: 1h)
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" default:"1h"`

	// BusyTimeout is how long sqlite waits on a locked database (default: 5s)
	BusyTimeout time.Duration `env:"DB_BUSY_TIMEOUT" default:"5s"`
}

// PipelineConfig holds run settings.
type PipelineConfig struct {
	// DataDir holds one directory of source files per run date (default: data)
	DataDir string `env:"PIPELINE_DATA_DIR" default:"data"`

	// RulesPath is the data quality rule document (default: config/data_quality_schema.json)
	RulesPath string `env:"PIPELINE_RULES_PATH" default:"config/data_quality_schema.json"`

	// DimensionsPath is the YAML dimension document (default: config/pipeline_config.yaml)
	DimensionsPath string `env:"PIPELINE_DIMENSIONS_PATH" default:"config/pipeline_config.yaml"`

	// GateMode is strict, permissive or audit-only (default: permissive)
	GateMode string `env:"PIPELINE_GATE_MODE" default:"permissive"`

	// Workers is the quality engine parallelism (default: 4)
	Workers int `env:"PIPELINE_WORKERS" default:"4"`

	// RunTimeout bounds a background run (default: 30m)
	RunTimeout time.Duration `env:"PIPELINE_RUN_TIMEOUT" default:"30m"`

	// MaxConcurrentRuns is the number of runs allowed at once (default: 1)
	MaxConcurrentRuns int `env:"PIPELINE_MAX_CONCURRENT_RUNS" default:"1"`

	// MaxWaitTime is how long a trigger waits for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"30s"`
}

// ReportConfig holds quality report storage settings.
type ReportConfig struct {
	// Dir is the local report directory (default: quality_output)
	Dir string `env:"REPORT_DIR" default:"quality_output"`

	// S3Endpoint enables the object store sink when set (host:port)
	S3Endpoint string `env:"REPORT_S3_ENDPOINT"`

	// S3Bucket is the report bucket (default: dq-reports)
	S3Bucket string `env:"REPORT_S3_BUCKET" default:"dq-reports"`

	// S3Prefix is prepended to object keys
	S3Prefix string `env:"REPORT_S3_PREFIX"`

	S3AccessKey string `env:"REPORT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"REPORT_S3_SECRET_KEY"`

	// S3UseSSL selects https for the object store (default: false)
	S3UseSSL bool `env:"REPORT_S3_USE_SSL" default:"false"`
}

// LockConfig holds the per-run-date lock settings.
type LockConfig struct {
	// Backend is local or redis (default: local)
	Backend string `env:"LOCK_BACKEND" default:"local"`

	// RedisAddr is host:port of the redis server (default: localhost:6379)
	RedisAddr string `env:"REDIS_ADDR" default:"localhost:6379"`

	RedisPassword string `env:"REDIS_PASSWORD"`

	// RedisDB is the redis database number (default: 0)
	RedisDB int `env:"REDIS_DB" default:"0"`

	// TTL expires a lock whose holder died (default: 30m)
	TTL time.Duration `env:"LOCK_TTL" default:"30m"`
}

// NotifyConfig holds run event publishing settings.
type NotifyConfig struct {
	// KafkaBrokers is a comma-separated broker list; empty logs events instead
	KafkaBrokers []string `env:"NOTIFY_KAFKA_BROKERS"`

	// KafkaTopic receives one message per finished run (default: dailydrop.runs)
	KafkaTopic string `env:"NOTIFY_KAFKA_TOPIC" default:"dailydrop.runs"`
}

// ScheduleConfig holds the daily trigger settings of the server.
type ScheduleConfig struct {
	// Enabled starts the cron scheduler with the server (default: false)
	Enabled bool `env:"SCHEDULE_ENABLED" default:"false"`

	// Cron is a cron expression with a seconds field (default: 02:30 daily)
	Cron string `env:"SCHEDULE_CRON" default:"0 30 2 * * *"`

	// Generate writes synthetic data before each scheduled run (default: false)
	Generate bool `env:"SCHEDULE_GENERATE" default:"false"`

	// NApps is the number of synthetic applications per scheduled run (default: 1000)
	NApps int `env:"SCHEDULE_N_APPS" default:"1000"`

	// Seed seeds synthetic generation (default: 42)
	Seed int64 `env:"SCHEDULE_SEED" default:"42"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// TriggerLimit is requests per minute for run triggers (default: 10)
	TriggerLimit int `env:"RATE_LIMIT_TRIGGER" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects API requests without a valid key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// AllowedOrigins is a comma-separated CORS origin list (default: *)
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File also writes logs to a size-rotated file when set
	File string `env:"LOG_FILE"`

	// FileMaxSizeMB rotates the file at this size (default: 2)
	FileMaxSizeMB int `env:"LOG_FILE_MAX_SIZE_MB" default:"2"`

	// FileMaxBackups is the number of rotated files kept (default: 3)
	FileMaxBackups int `env:"LOG_FILE_MAX_BACKUPS" default:"3"`

	// FileMaxAgeDays removes rotated files older than this; 0 keeps them (default: 0)
	FileMaxAgeDays int `env:"LOG_FILE_MAX_AGE_DAYS" default:"0"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
