package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keyfold/keyfold/pkg/observability"
)

// AppHostCloud marks a deployment operated by us; billing applies only
// there.
const AppHostCloud = "cloud"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	SMTP          SMTPConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis settings. Redis is optional; without it,
// permission decisions are uncached and rate limiting is disabled.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	CacheTTL time.Duration
}

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AppConfig holds deployment-level application settings.
type AppConfig struct {
	// AppHost distinguishes cloud from self-hosted deployments.
	AppHost string

	// BaseURL is the externally reachable web app address, used in emails.
	BaseURL string

	LicenseKey       string
	LicenseServerURL string

	BillingAPIURL string
	BillingAPIKey string

	SideEffectTimeout time.Duration

	// InviteCleanupSchedule is a cron expression for expired-invite
	// removal.
	InviteCleanupSchedule string

	RateLimitPerMinute int
}

// Hosted reports whether the deployment runs in cloud mode.
func (a AppConfig) Hosted() bool {
	return a.AppHost == AppHostCloud
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("KEYFOLD_HOST", "0.0.0.0"),
			Port:            getEnv("KEYFOLD_PORT", "8080"),
			ReadTimeout:     getEnvDuration("KEYFOLD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("KEYFOLD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("KEYFOLD_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("KEYFOLD_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("KEYFOLD_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("KEYFOLD_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("KEYFOLD_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("KEYFOLD_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("KEYFOLD_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("KEYFOLD_REDIS_URL", ""),
			Password: getEnv("KEYFOLD_REDIS_PASSWORD", ""),
			DB:       getEnvInt("KEYFOLD_REDIS_DB", 0),
			CacheTTL: getEnvDuration("KEYFOLD_ACCESS_CACHE_TTL", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("KEYFOLD_SMTP_HOST", "localhost"),
			Port:     getEnvInt("KEYFOLD_SMTP_PORT", 587),
			Username: getEnv("KEYFOLD_SMTP_USERNAME", ""),
			Password: getEnv("KEYFOLD_SMTP_PASSWORD", ""),
			From:     getEnv("KEYFOLD_SMTP_FROM", "noreply@keyfold.example"),
		},
		App: AppConfig{
			AppHost:               getEnv("KEYFOLD_APP_HOST", "self-hosted"),
			BaseURL:               getEnv("KEYFOLD_BASE_URL", "http://localhost:3000"),
			LicenseKey:            getEnv("KEYFOLD_LICENSE_KEY", ""),
			LicenseServerURL:      getEnv("KEYFOLD_LICENSE_SERVER_URL", "https://license.keyfold.example"),
			BillingAPIURL:         getEnv("KEYFOLD_BILLING_API_URL", ""),
			BillingAPIKey:         getEnv("KEYFOLD_BILLING_API_KEY", ""),
			SideEffectTimeout:     getEnvDuration("KEYFOLD_SIDE_EFFECT_TIMEOUT", 30*time.Second),
			InviteCleanupSchedule: getEnv("KEYFOLD_INVITE_CLEANUP_SCHEDULE", "@hourly"),
			RateLimitPerMinute:    getEnvInt("KEYFOLD_RATE_LIMIT_PER_MINUTE", 300),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLevel(getEnv("KEYFOLD_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("KEYFOLD_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("KEYFOLD_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("KEYFOLD_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("KEYFOLD_OTEL_SERVICE_NAME", "keyfold"),
			OTelServiceVersion: getEnv("KEYFOLD_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("KEYFOLD_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.App.Hosted() {
		if c.App.BillingAPIURL == "" || c.App.BillingAPIKey == "" {
			return fmt.Errorf("billing API configuration is required in cloud mode")
		}
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when tracing is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
