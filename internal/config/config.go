// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/dpmconv/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
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

	// WriteTimeout is the maximum duration for writing response (default: 0 so
	// large documents can stream)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Database drivers.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds persistence settings. With the "none" driver runs
// keep their results in memory only.
type DatabaseConfig struct {
	// Driver selects the store: none, postgres or sqlite (default: none)
	Driver string `env:"DB_DRIVER" default:"none"`

	// URL is the PostgreSQL connection string or the SQLite file path.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ReadReferences loads the foundational kinds from the store instead of
	// the source directory (default: false)
	ReadReferences bool `env:"DB_READ_REFERENCES" default:"false"`
}

// PipelineConfig holds conversion settings.
type PipelineConfig struct {
	// SourceDir is the directory of the CSV export
	SourceDir string `env:"DPM_SOURCE_DIR"`

	// Output is the document path written by the CLI (default: stdout)
	Output string `env:"DPM_OUTPUT"`

	// Owner is the identifier prefix used when no organisation is known (default: EBA)
	Owner string `env:"DPM_DEFAULT_OWNER" default:"EBA"`

	// Version is used when no taxonomy version is known (default: 1.0)
	Version string `env:"DPM_DEFAULT_VERSION" default:"1.0"`

	// Unknown replaces missing identifier components (default: UNK)
	Unknown string `env:"DPM_UNKNOWN_TOKEN" default:"UNK"`

	// Workers is the transform worker count per kind (default: 4)
	Workers int `env:"DPM_WORKERS" default:"4"`

	// BatchSize overrides the size-based batch choice (default: 0, automatic)
	BatchSize int `env:"DPM_BATCH_SIZE" default:"0"`

	// StreamThreshold is the section size above which output is chunked (default: 1000)
	StreamThreshold int `env:"DPM_STREAM_THRESHOLD" default:"1000"`

	// ChunkSize is the number of entries per streamed chunk (default: 500)
	ChunkSize int `env:"DPM_CHUNK_SIZE" default:"500"`

	// FrameworksFile is a YAML pattern table replacing the built-in one
	FrameworksFile string `env:"DPM_FRAMEWORKS_FILE"`

	// Schedule is a cron expression for periodic runs; empty disables them
	Schedule string `env:"DPM_SCHEDULE"`

	// MaxConcurrentRuns is the maximum number of parallel runs (default: 2)
	MaxConcurrentRuns int `env:"DPM_MAX_CONCURRENT_RUNS" default:"2"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"DPM_MAX_WAIT_TIME" default:"30s"`

	// RunTimeout is the maximum duration of a single run (default: 30m)
	RunTimeout time.Duration `env:"DPM_RUN_TIMEOUT" default:"30m"`

	// RunRetention is how long finished runs stay queryable (default: 1h)
	RunRetention time.Duration `env:"DPM_RUN_RETENTION" default:"1h"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Defaults returns the identifier defaults of the pipeline.
func (c *PipelineConfig) Defaults() core.Defaults {
	return core.Defaults{Owner: c.Owner, Version: c.Version, Unknown: c.Unknown}
}

// DocumentOptions returns the document chunking settings.
func (c *PipelineConfig) DocumentOptions() core.DocumentOptions {
	return core.DocumentOptions{StreamThreshold: c.StreamThreshold, ChunkSize: c.ChunkSize}
}

// Patterns loads the framework pattern table: the configured file, or the
// built-in table when none is set.
func (c *PipelineConfig) Patterns() (*core.PatternTable, error) {
	if c.FrameworksFile == "" {
		return core.DefaultPatterns(), nil
	}
	return core.LoadPatternTable(c.FrameworksFile)
}
