// Package config provides configuration loading for the loomline service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the loomline service.
// It is populated once at startup and never mutated afterwards.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Module     ModuleConfig     `mapstructure:"module"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Validation ValidationConfig `mapstructure:"validation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig selects the persistence backend.
// Backend is "postgres" or "memory".
type DatabaseConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis connection settings for the dedup store
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ModuleConfig identifies this module and its organizational counterparts.
type ModuleConfig struct {
	Self  string   `mapstructure:"self"`
	Peers []string `mapstructure:"peers"`
}

// TransportConfig tunes event delivery.
// Endpoints maps a counterpart module name to the base URL used for
// direct fallback delivery when the broadcast channel cannot confirm.
type TransportConfig struct {
	AckWait          time.Duration     `mapstructure:"ack_wait"`
	PublishWorkers   int               `mapstructure:"publish_workers"`
	QueueSize        int               `mapstructure:"queue_size"`
	FallbackAttempts int               `mapstructure:"fallback_attempts"`
	FallbackBackoff  time.Duration     `mapstructure:"fallback_backoff"`
	FallbackTimeout  time.Duration     `mapstructure:"fallback_timeout"`
	Endpoints        map[string]string `mapstructure:"endpoints"`
}

// ValidationConfig tunes cross-module validation requests.
type ValidationConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// SchedulerConfig tunes the background sweeps.
type SchedulerConfig struct {
	TimeoutSweepInterval time.Duration `mapstructure:"timeout_sweep_interval"`
	StaleScanInterval    time.Duration `mapstructure:"stale_scan_interval"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
}

// WebhookConfig holds signing settings for direct delivery tokens.
type WebhookConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// DedupConfig selects the envelope idempotency backend.
// Backend is "memory" or "redis".
type DedupConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "loomline")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "loomline")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("module.self", "design")
	v.SetDefault("module.peers", []string{"executive", "finance", "operations", "marketing"})

	v.SetDefault("transport.ack_wait", "3s")
	v.SetDefault("transport.publish_workers", 8)
	v.SetDefault("transport.queue_size", 256)
	v.SetDefault("transport.fallback_attempts", 3)
	v.SetDefault("transport.fallback_backoff", "500ms")
	v.SetDefault("transport.fallback_timeout", "10s")
	v.SetDefault("transport.endpoints.executive", "http://executive:8080")
	v.SetDefault("transport.endpoints.finance", "http://finance:8080")
	v.SetDefault("transport.endpoints.operations", "http://operations:8080")
	v.SetDefault("transport.endpoints.marketing", "http://marketing:8080")

	v.SetDefault("validation.timeout", "48h")
	v.SetDefault("validation.grace_period", "10m")

	v.SetDefault("scheduler.timeout_sweep_interval", "1m")
	v.SetDefault("scheduler.stale_scan_interval", "168h")
	v.SetDefault("scheduler.stale_after", "336h")

	v.SetDefault("webhook.secret", "loomline-dev-secret")
	v.SetDefault("webhook.token_ttl", "2m")

	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.ttl", "24h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/loomline")
	}

	// Environment variables override (LOOMLINE_SERVER_PORT, etc.)
	v.SetEnvPrefix("LOOMLINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config - ignore file not found for defaults
	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Otherwise use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
