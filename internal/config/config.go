// Package config provides centralized configuration management for the fisler service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Driver names accepted by DATABASE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Workflow WorkflowConfig
	Ingest   IngestConfig
	Stats    StatsConfig
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

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout stays 0 so the ingest event stream is not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or bolt (default: postgres)
	Driver string `env:"DATABASE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// BoltPath is the database file used by the bolt driver.
	BoltPath string `env:"BOLT_PATH" default:"fisler.db"`

	// AutoMigrate applies embedded migrations on startup (postgres only).
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`

	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds receipt upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`

	// MinImageSize rejects images smaller than this many bytes (default: 10000)
	MinImageSize int64 `env:"UPLOAD_MIN_IMAGE_SIZE" default:"10000"`

	MaxNameLength int `env:"UPLOAD_MAX_NAME_LENGTH" default:"255"`

	// MaxBatchFiles caps a batch upload (default: 20)
	MaxBatchFiles int `env:"UPLOAD_MAX_BATCH_FILES" default:"20"`

	// MaxConcurrent is the maximum number of parallel workflow forwards (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// WorkflowConfig points at the external extraction workflow.
type WorkflowConfig struct {
	// WebhookURL is where uploads are forwarded. Empty or the placeholder
	// URL selects the local acknowledge-only path.
	WebhookURL string `env:"N8N_WEBHOOK_URL" envAlt:"WORKFLOW_WEBHOOK_URL"`

	// Timeout bounds a single forward (default: 2m)
	Timeout time.Duration `env:"WORKFLOW_TIMEOUT" default:"2m"`
}

// IngestConfig holds processing-banner timing.
type IngestConfig struct {
	// Countdown is how long the banner stays up without reconciliation (default: 25s)
	Countdown time.Duration `env:"INGEST_COUNTDOWN" default:"25s"`

	// RefetchOffsets are the re-query points after upload success.
	RefetchOffsets []time.Duration `env:"INGEST_REFETCH_OFFSETS" default:"2s,7s,12s"`
}

// StatsConfig holds statistics cache settings.
type StatsConfig struct {
	CacheTTL time.Duration `env:"STATS_CACHE_TTL" default:"30s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 30)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"30"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey guards the workflow write-back endpoints.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
