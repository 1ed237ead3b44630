// Package config provides configuration management for both querysync services.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Role selects which service a process runs.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Forwarding modes
const (
	ModeSync   = "sync"
	ModeOutbox = "outbox"
)

// Config holds all configuration for a querysync service.
type Config struct {
	Role        Role              `mapstructure:"-" yaml:"role"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Secondary   SecondaryConfig   `mapstructure:"secondary" yaml:"secondary"`
	Forwarding  ForwardingConfig  `mapstructure:"forwarding" yaml:"forwarding"`
	Outbox      OutboxConfig      `mapstructure:"outbox" yaml:"outbox"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	CORS        CORSConfig        `mapstructure:"cors" yaml:"cors"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds embedded database configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns int    `mapstructure:"min_conns" yaml:"min_conns"`
}

// SecondaryConfig tells the primary where the secondary lives.
type SecondaryConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ForwardingConfig controls propagation from the primary.
type ForwardingConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
	// PartialStatus is returned when the local commit stands but the secondary was not updated
	PartialStatus int `mapstructure:"partial_status" yaml:"partial_status"`
}

// OutboxConfig holds outbox replay configuration.
type OutboxConfig struct {
	ReplayInterval time.Duration `mapstructure:"replay_interval" yaml:"replay_interval"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// IdempotencyConfig controls create deduplication on the secondary.
type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSize int           `mapstructure:"max_size" yaml:"max_size"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// CORSConfig holds allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Role != RolePrimary && c.Role != RoleSecondary {
		return fmt.Errorf("invalid role: %q", c.Role)
	}

	if err := validPort("server", c.Server.Port); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case DriverPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			return fmt.Errorf("store.postgres.host and store.postgres.database are required")
		}
		if err := validPort("postgres", c.Store.Postgres.Port); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Role == RolePrimary {
		if err := c.validatePrimary(); err != nil {
			return err
		}
	}

	if c.Role == RoleSecondary && c.Idempotency.Enabled {
		switch c.Idempotency.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("unknown idempotency backend: %q", c.Idempotency.Backend)
		}
		if c.Idempotency.TTL <= 0 {
			return fmt.Errorf("idempotency.ttl must be positive")
		}
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if err := validPort("metrics", c.Metrics.Port); err != nil {
			return err
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port must differ from server port")
		}
	}

	return nil
}

func (c *Config) validatePrimary() error {
	u, err := url.Parse(c.Secondary.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid secondary url: %q", c.Secondary.URL)
	}
	if c.Secondary.Timeout <= 0 {
		return fmt.Errorf("secondary timeout must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Secondary.Timeout >= c.Server.WriteTimeout {
		return fmt.Errorf("secondary timeout (%s) must be shorter than server write_timeout (%s)",
			c.Secondary.Timeout, c.Server.WriteTimeout)
	}

	switch c.Forwarding.Mode {
	case ModeSync:
	case ModeOutbox:
		if c.Store.Driver == DriverMemory {
			return fmt.Errorf("outbox mode requires a durable store")
		}
		if c.Outbox.ReplayInterval <= 0 || c.Outbox.BatchSize <= 0 || c.Outbox.Workers <= 0 || c.Outbox.MaxAttempts <= 0 {
			return fmt.Errorf("outbox replay_interval, batch_size, workers and max_attempts must be positive")
		}
	default:
		return fmt.Errorf("unknown forwarding mode: %q", c.Forwarding.Mode)
	}

	if c.Forwarding.PartialStatus < 200 || c.Forwarding.PartialStatus > 599 {
		return fmt.Errorf("invalid forwarding partial_status: %d", c.Forwarding.PartialStatus)
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Store.Postgres.Password != "" {
		cp.Store.Postgres.Password = "********"
	}
	if cp.Idempotency.Redis.Password != "" {
		cp.Idempotency.Redis.Password = "********"
	}
	return &cp
}
