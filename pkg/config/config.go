package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Redis         storage.RedisConfig `yaml:"redis"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LifecycleConfig controls soft-delete cascading
type LifecycleConfig struct {
	// CascadeMode is "query" (load live dependents before deleting) or
	// "loaded" (cascade only to dependents already in the session)
	CascadeMode string `yaml:"cascade_mode" validate:"oneof=query loaded"`
}

// RetentionConfig controls the auth audit retention worker
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Days     int           `yaml:"days" validate:"gte=1"`
	Schedule string        `yaml:"schedule" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl" validate:"gte=0"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn warning error"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio" validate:"gte=0,lte=1"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(o.LogLevel)
}

// OTel returns the tracer settings in the form observability expects
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Redis:   storage.RedisConfig{DB: -1},
		Lifecycle: LifecycleConfig{
			CascadeMode: "query",
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Days:     180,
			Schedule: "@every 24h",
			Timeout:  10 * time.Minute,
			LockKey:  "tally:auth-audit-retention",
			LockTTL:  15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tally",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then TALLY_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("TALLY_HOST", c.Server.Host)
	c.Server.Port = getEnv("TALLY_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("TALLY_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TALLY_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TALLY_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.Driver = getEnv("TALLY_DB_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("TALLY_DB_DSN", c.Storage.DSN)
	c.Storage.MaxOpenConns = getEnvInt("TALLY_DB_MAX_OPEN_CONNS", c.Storage.MaxOpenConns)
	c.Storage.MaxIdleConns = getEnvInt("TALLY_DB_MAX_IDLE_CONNS", c.Storage.MaxIdleConns)
	c.Storage.ConnMaxLifetime = getEnvDuration("TALLY_DB_CONN_MAX_LIFETIME", c.Storage.ConnMaxLifetime)
	c.Storage.LogLevel = getEnv("TALLY_DB_LOG_LEVEL", c.Storage.LogLevel)
	c.Storage.Tracing = getEnvBool("TALLY_DB_TRACING", c.Storage.Tracing)

	c.Redis.URL = getEnv("TALLY_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("TALLY_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("TALLY_REDIS_DB", c.Redis.DB)

	c.Lifecycle.CascadeMode = strings.ToLower(getEnv("TALLY_CASCADE_MODE", c.Lifecycle.CascadeMode))

	c.Retention.Enabled = getEnvBool("TALLY_RETENTION_ENABLED", c.Retention.Enabled)
	c.Retention.Days = getEnvInt("TALLY_RETENTION_DAYS", c.Retention.Days)
	c.Retention.Schedule = getEnv("TALLY_RETENTION_SCHEDULE", c.Retention.Schedule)
	c.Retention.Timeout = getEnvDuration("TALLY_RETENTION_TIMEOUT", c.Retention.Timeout)
	c.Retention.LockTTL = getEnvDuration("TALLY_RETENTION_LOCK_TTL", c.Retention.LockTTL)

	c.Observability.LogLevel = strings.ToLower(getEnv("TALLY_LOG_LEVEL", c.Observability.LogLevel))
	c.Observability.MetricsEnabled = getEnvBool("TALLY_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("TALLY_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("TALLY_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("TALLY_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("TALLY_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("TALLY_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("TALLY_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

var validate = validator.New()

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err)
	}

	if c.Redis.Enabled() && c.Retention.LockTTL <= 0 {
		return fmt.Errorf("retention lock TTL must be positive when redis is configured")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
