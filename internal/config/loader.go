package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QUERYSYNC_SECONDARY_URL.
const EnvPrefix = "QUERYSYNC"

// Loader reads configuration for one role from defaults, an optional YAML file
// and the environment.
type Loader struct {
	v    *viper.Viper
	role Role
}

// NewLoader creates a loader. An empty configPath searches ./querysync.yaml and
// /etc/querysync/querysync.yaml.
func NewLoader(configPath string, role Role) *Loader {
	v := viper.New()
	setDefaults(v, role)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("querysync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/querysync/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, role: role}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Role = l.role

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Load read, or "" when running on defaults.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes. Invalid edits are reported through onError and ignored.
// It does nothing when no config file was read.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			onError(fmt.Errorf("reload of %s rejected: %w", e.Name, err))
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

// Load is a shorthand for NewLoader(configPath, role).Load().
func Load(configPath string, role Role) (*Config, error) {
	return NewLoader(configPath, role).Load()
}

// setDefaults sets default configuration values. The two roles default to
// different ports and stores so they can run side by side.
func setDefaults(v *viper.Viper, role Role) {
	// Server defaults
	if role == RoleSecondary {
		v.SetDefault("server.port", 5001)
	} else {
		v.SetDefault("server.port", 5000)
	}
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Store defaults
	if role == RoleSecondary {
		v.SetDefault("store.driver", DriverPostgres)
	} else {
		v.SetDefault("store.driver", DriverSQLite)
	}
	v.SetDefault("store.sqlite.path", "queries.db")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.database", "queries_db")
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.ssl_mode", "disable")
	v.SetDefault("store.postgres.max_conns", 20)
	v.SetDefault("store.postgres.min_conns", 2)

	// Secondary client defaults
	v.SetDefault("secondary.url", "http://localhost:5001")
	v.SetDefault("secondary.timeout", "5s")

	// Forwarding defaults
	v.SetDefault("forwarding.mode", ModeSync)
	v.SetDefault("forwarding.partial_status", 500)

	// Outbox defaults
	v.SetDefault("outbox.replay_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.workers", 4)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.ttl", "24h")
	v.SetDefault("outbox.initial_backoff", "1s")
	v.SetDefault("outbox.max_backoff", "5m")

	// Idempotency defaults
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_size", 100000)
	v.SetDefault("idempotency.redis.host", "localhost")
	v.SetDefault("idempotency.redis.port", 6379)
	v.SetDefault("idempotency.redis.password", "")
	v.SetDefault("idempotency.redis.db", 0)
	v.SetDefault("idempotency.redis.pool_size", 10)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", false)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	if role == RoleSecondary {
		v.SetDefault("metrics.port", 9091)
	} else {
		v.SetDefault("metrics.port", 9090)
	}
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
