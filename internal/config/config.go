// Package config provides centralized configuration management for the application.
// It loads configuration from an optional YAML file and environment variables with
// sensible defaults, and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// Every setting can be configured via environment variables; the YAML keys
// mirror the struct layout.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Upload   UploadConfig    `yaml:"upload"`
	Query    QueryConfig     `yaml:"query"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
	Lock     LockConfig      `yaml:"lock"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `yaml:"host" env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8000)
	Port int `yaml:"port" env:"SERVER_PORT" default:"8000"`

	// ReadTimeout is the maximum duration for reading a request body (default: 60s)
	ReadTimeout time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, exports stream)
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 10m, finalize can be slow)
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" default:"10m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `yaml:"url" env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `yaml:"max_conns" env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `yaml:"min_conns" env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds chunked CSV upload settings.
type UploadConfig struct {
	// ChunkDir is where chunk, reassembled and transformed files live (default: media/temp_chunks)
	ChunkDir string `yaml:"chunk_dir" env:"UPLOAD_CHUNK_DIR" default:"media/temp_chunks"`

	// MaxFileSize is the maximum reassembled file size in bytes (default: 1GB)
	MaxFileSize int64 `yaml:"max_file_size" env:"UPLOAD_MAX_FILE_SIZE" default:"1073741824"`

	// MaxChunkSize is the maximum size of a single chunk in bytes (default: 32MB)
	MaxChunkSize int64 `yaml:"max_chunk_size" env:"UPLOAD_MAX_CHUNK_SIZE" default:"33554432"`

	// MaxConcurrent is the maximum number of parallel finalizations (default: 4)
	MaxConcurrent int `yaml:"max_concurrent" env:"UPLOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a finalize waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `yaml:"max_wait_time" env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single finalize operation (default: 10m)
	Timeout time.Duration `yaml:"timeout" env:"UPLOAD_TIMEOUT" default:"10m"`
}

// QueryConfig holds list pagination settings.
type QueryConfig struct {
	// DefaultPageSize is used when the caller does not pass page_size (default: 10)
	DefaultPageSize int `yaml:"default_page_size" env:"QUERY_DEFAULT_PAGE_SIZE" default:"10"`

	// MaxPageSize caps the caller-supplied page_size (default: 100)
	MaxPageSize int `yaml:"max_page_size" env:"QUERY_MAX_PAGE_SIZE" default:"100"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 600)
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`

	// UploadLimit is requests per minute for upload endpoints (default: 1200, one per chunk)
	UploadLimit int `yaml:"upload_limit" env:"RATE_LIMIT_UPLOAD" default:"1200"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text"`
}

// LockConfig selects how concurrent finalize calls for one file name are guarded.
type LockConfig struct {
	// Backend is "none" (no guard) or "redis" (default: none)
	Backend string `yaml:"backend" env:"LOCK_BACKEND" default:"none"`

	// RedisAddr is host:port of the Redis server used by the redis backend
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR" default:"localhost:6379"`

	// RedisPassword is the optional Redis AUTH password
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`

	// RedisDB is the Redis logical database (default: 0)
	RedisDB int `yaml:"redis_db" env:"REDIS_DB" default:"0"`

	// TTL is how long a finalize lock is held before it expires on its own (default: 15m)
	TTL time.Duration `yaml:"ttl" env:"LOCK_TTL" default:"15m"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
