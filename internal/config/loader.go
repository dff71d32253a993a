package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadEnvFiles applies .env style files on top of the process environment.
// Missing files are ignored; with no paths it reads ./.env.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Overload(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := cast.ToInt64E(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := cast.ToBoolE(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

var (
	validDrivers   = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	validGateModes = map[string]bool{"strict": true, "permissive": true, "audit-only": true, "audit_only": true}
	validBackends  = map[string]bool{"local": true, "redis": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"text": true, "json": true}
)

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if !validDrivers[strings.ToLower(c.Database.Driver)] {
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: sqlite, postgres, mysql", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, "DB_MAX_OPEN_CONNS must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, "DB_MAX_IDLE_CONNS must be non-negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_IDLE_CONNS (%d) must be <= DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Pipeline validation
	if c.Pipeline.DataDir == "" {
		errs = append(errs, "PIPELINE_DATA_DIR is required")
	}
	if !validGateModes[strings.ToLower(c.Pipeline.GateMode)] {
		errs = append(errs, fmt.Sprintf("PIPELINE_GATE_MODE (%q) must be one of: strict, permissive, audit-only", c.Pipeline.GateMode))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.RunTimeout <= 0 {
		errs = append(errs, "PIPELINE_RUN_TIMEOUT must be positive")
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		errs = append(errs, "PIPELINE_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Pipeline.MaxWaitTime <= 0 {
		errs = append(errs, "PIPELINE_MAX_WAIT_TIME must be positive")
	}

	// Report validation
	if c.Reports.S3Endpoint != "" {
		if c.Reports.S3Bucket == "" {
			errs = append(errs, "REPORT_S3_BUCKET is required when REPORT_S3_ENDPOINT is set")
		}
		if c.Reports.S3AccessKey == "" || c.Reports.S3SecretKey == "" {
			errs = append(errs, "REPORT_S3_ACCESS_KEY and REPORT_S3_SECRET_KEY are required when REPORT_S3_ENDPOINT is set")
		}
	}

	// Lock validation
	if !validBackends[strings.ToLower(c.Lock.Backend)] {
		errs = append(errs, fmt.Sprintf("LOCK_BACKEND (%q) must be one of: local, redis", c.Lock.Backend))
	}
	if strings.EqualFold(c.Lock.Backend, "redis") && c.Lock.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required when LOCK_BACKEND is redis")
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, "LOCK_TTL must be positive")
	}

	// Notify validation
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		errs = append(errs, "NOTIFY_KAFKA_TOPIC is required when NOTIFY_KAFKA_BROKERS is set")
	}

	// Schedule validation
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		errs = append(errs, "SCHEDULE_CRON is required when SCHEDULE_ENABLED is true")
	}
	if c.Schedule.Generate && c.Schedule.NApps <= 0 {
		errs = append(errs, "SCHEDULE_N_APPS must be positive when SCHEDULE_GENERATE is true")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.TriggerLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_TRIGGER must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}
	if c.Logging.File != "" && c.Logging.FileMaxSizeMB <= 0 {
		errs = append(errs, "LOG_FILE_MAX_SIZE_MB must be positive when LOG_FILE is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {Driver: %q, URL: %s}, ", c.Database.Driver, maskDSN(c.Database)))
	b.WriteString(fmt.Sprintf("Pipeline: {DataDir: %q, GateMode: %q, Workers: %d, MaxConcurrentRuns: %d}, ",
		c.Pipeline.DataDir, c.Pipeline.GateMode, c.Pipeline.Workers, c.Pipeline.MaxConcurrentRuns))
	b.WriteString(fmt.Sprintf("Reports: {Dir: %q, S3Endpoint: %q, S3Keys: [MASKED]}, ", c.Reports.Dir, c.Reports.S3Endpoint))
	b.WriteString(fmt.Sprintf("Lock: {Backend: %q, TTL: %s}, ", c.Lock.Backend, c.Lock.TTL))
	b.WriteString(fmt.Sprintf("Notify: {KafkaBrokers: %d, Topic: %q}, ", len(c.Notify.KafkaBrokers), c.Notify.KafkaTopic))
	b.WriteString(fmt.Sprintf("Schedule: {Enabled: %v, Cron: %q}, ", c.Schedule.Enabled, c.Schedule.Cron))
	b.WriteString(fmt.Sprintf("Security: {APIKeys: %d [MASKED], RequireAPIKey: %v}, ", len(c.Security.APIKeys), c.Security.RequireAPIKey))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q, File: %q}",
		c.Logging.Level, c.Logging.Format, c.Logging.File))
	b.WriteString("}")
	return b.String()
}

// maskDSN shows sqlite paths and hides anything that may carry credentials.
func maskDSN(db DatabaseConfig) string {
	if strings.EqualFold(db.Driver, "sqlite") {
		return fmt.Sprintf("%q", db.URL)
	}
	return "[MASKED]"
}
