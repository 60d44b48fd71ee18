// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the HUDDLE_ prefix (e.g., HUDDLE_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs from a config.yaml in
// local development and from pure environment variables in containers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Invitations InvitationsConfig `mapstructure:"invitations"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the Redis connection used for rate limiting and the event stream.
// When Addr is empty the server runs without Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds caller authentication settings
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 bearer tokens
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PrometheusPort serves /metrics on its own listener, away from the public API
	PrometheusPort int `mapstructure:"prometheus_port"`
}

// InvitationsConfig tunes the invitation service
type InvitationsConfig struct {
	// TTL is how long a new invitation stays acceptable
	TTL time.Duration `mapstructure:"ttl"`
	// SendConcurrency caps simultaneous directory sends within one request
	SendConcurrency int `mapstructure:"send_concurrency"`
	// SendRatePerMinute limits invitation send requests per workspace (0 disables)
	SendRatePerMinute int `mapstructure:"send_rate_per_minute"`
}

// DirectoryConfig holds the external identity directory settings
type DirectoryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutboxConfig controls the outbox relay and its publishers
type OutboxConfig struct {
	RelayEnabled bool          `mapstructure:"relay_enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Consumer     string        `mapstructure:"consumer"`
	// GapTimeout is how long the relay waits on a missing event id before skipping it.
	// It must exceed the longest transaction that writes outbox events.
	GapTimeout time.Duration       `mapstructure:"gap_timeout"`
	Stream     OutboxStreamConfig  `mapstructure:"stream"`
	Webhook    OutboxWebhookConfig `mapstructure:"webhook"`
}

// OutboxStreamConfig configures the Redis Streams publisher
type OutboxStreamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// OutboxWebhookConfig configures the webhook publisher
type OutboxWebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.jwt_secret",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Invitations
		"invitations.ttl",
		"invitations.send_concurrency",
		"invitations.send_rate_per_minute",

		// Directory
		"directory.enabled",
		"directory.base_url",
		"directory.api_key",
		"directory.timeout",

		// Outbox
		"outbox.relay_enabled",
		"outbox.interval",
		"outbox.batch_size",
		"outbox.consumer",
		"outbox.gap_timeout",
		"outbox.stream.enabled",
		"outbox.stream.name",
		"outbox.stream.max_len",
		"outbox.webhook.enabled",
		"outbox.webhook.url",
		"outbox.webhook.timeout",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/huddle")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may reference other environment variables
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Directory.APIKey = expandEnv(cfg.Directory.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "huddle")
	v.SetDefault("database.user", "huddle")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("invitations.ttl", "168h")
	v.SetDefault("invitations.send_concurrency", 8)
	v.SetDefault("invitations.send_rate_per_minute", 30)

	v.SetDefault("directory.enabled", false)
	v.SetDefault("directory.base_url", "https://api.workos.com")
	v.SetDefault("directory.timeout", "10s")

	v.SetDefault("outbox.relay_enabled", false)
	v.SetDefault("outbox.interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.consumer", "default")
	v.SetDefault("outbox.gap_timeout", "30s")
	v.SetDefault("outbox.stream.enabled", false)
	v.SetDefault("outbox.stream.name", "huddle:events")
	v.SetDefault("outbox.stream.max_len", 100000)
	v.SetDefault("outbox.webhook.enabled", false)
	v.SetDefault("outbox.webhook.timeout", "10s")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitations.ttl must be positive")
	}
	if c.Invitations.SendConcurrency < 1 {
		return fmt.Errorf("invitations.send_concurrency must be at least 1")
	}
	if c.Invitations.SendRatePerMinute < 0 {
		return fmt.Errorf("invitations.send_rate_per_minute must not be negative")
	}

	if c.Directory.Enabled {
		if c.Directory.APIKey == "" {
			return fmt.Errorf("directory.api_key is required when the directory is enabled")
		}
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("directory.base_url is required when the directory is enabled")
		}
	}

	if c.Outbox.RelayEnabled {
		if c.Outbox.BatchSize < 1 {
			return fmt.Errorf("outbox.batch_size must be at least 1")
		}
		if c.Outbox.GapTimeout < 0 {
			return fmt.Errorf("outbox.gap_timeout must not be negative")
		}
		if !c.Outbox.Stream.Enabled && !c.Outbox.Webhook.Enabled {
			return fmt.Errorf("outbox relay requires outbox.stream or outbox.webhook to be enabled")
		}
		if c.Outbox.Stream.Enabled && c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when outbox.stream is enabled")
		}
		if c.Outbox.Webhook.Enabled && c.Outbox.Webhook.URL == "" {
			return fmt.Errorf("outbox.webhook.url is required when outbox.webhook is enabled")
		}
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
