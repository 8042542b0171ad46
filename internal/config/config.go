// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "fluxion"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr     string          `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8787"`
	BackendURL     string          `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	AuthToken      string          `envconfig:"AUTH_TOKEN"`
	AllowedOrigins []string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogLevel       string          `envconfig:"LOG_LEVEL" default:"info"`
	SendPerMinute  int             `envconfig:"SEND_PER_MINUTE" default:"30"`
	ReadLimit      int64           `envconfig:"READ_LIMIT" default:"16777216"`
	Store          StoreConfig     `envconfig:"STORE"`
	Keepalive      KeepaliveConfig `envconfig:"KEEPALIVE"`
	Reconnect      ReconnectConfig `envconfig:"RECONNECT"`
}

// StoreConfig selects and configures the persisted store.
type StoreConfig struct {
	Driver       string        `envconfig:"DRIVER" default:"sqlite"`
	Path         string        `envconfig:"DB_PATH" default:"./data/fluxion.db"`
	RedisURL     string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisTimeout time.Duration `envconfig:"REDIS_TIMEOUT" default:"3s"`
	RootKey      string        `envconfig:"ROOT_KEY" default:"root"`
}

// KeepaliveConfig controls liveness pings on the backend connection.
// A zero value disables the corresponding check.
type KeepaliveConfig struct {
	Interval time.Duration `envconfig:"INTERVAL" default:"25s"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"60s"`
}

// ReconnectConfig controls retries after a dropped connection or failed dial.
// MaxAttempts of zero disables retries.
type ReconnectConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"0"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"500ms"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"30s"`
}

// Load reads configuration from FLUXION_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("FLUXION_LISTEN_ADDR cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("FLUXION_BACKEND_URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("FLUXION_BACKEND_URL must be http(s) or ws(s), got %q", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("FLUXION_BACKEND_URL has no host")
	}
	if c.SendPerMinute <= 0 {
		return fmt.Errorf("FLUXION_SEND_PER_MINUTE must be > 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("FLUXION_STORE_DB_PATH cannot be empty")
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("FLUXION_STORE_REDIS_URL cannot be empty")
		}
	default:
		return fmt.Errorf("FLUXION_STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverRedis, c.Store.Driver)
	}
	if c.Store.RootKey == "" {
		return fmt.Errorf("FLUXION_STORE_ROOT_KEY cannot be empty")
	}

	if c.Keepalive.Interval < 0 || c.Keepalive.Timeout < 0 {
		return fmt.Errorf("FLUXION_KEEPALIVE_* durations must be >= 0")
	}
	if c.Keepalive.Interval > 0 && c.Keepalive.Timeout > 0 && c.Keepalive.Timeout <= c.Keepalive.Interval {
		return fmt.Errorf("FLUXION_KEEPALIVE_TIMEOUT must exceed FLUXION_KEEPALIVE_INTERVAL")
	}
	if c.ReadLimit < -1 || c.ReadLimit == 0 {
		return fmt.Errorf("FLUXION_READ_LIMIT must be a positive byte count or -1 for no limit")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("FLUXION_RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if c.Reconnect.MaxAttempts > 0 && c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("FLUXION_RECONNECT_BASE_DELAY must be > 0 when retries are enabled")
	}
	return nil
}

// IsDevelopment returns true if the API is only reachable from this machine.
func (c *Config) IsDevelopment() bool {
	return strings.HasPrefix(c.ListenAddr, "127.0.0.1") ||
		strings.HasPrefix(c.ListenAddr, "localhost")
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("FLUXION_LOG_LEVEL: %w", err)
	}
	return level, nil
}
