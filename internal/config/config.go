// Package config defines the top-level configuration for the trading client
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TASTYBOT_* environment
// variables.
type Config struct {
	Tastytrade  TastytradeConfig  `toml:"tastytrade"`
	Stream      StreamConfig      `toml:"stream"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// TastytradeConfig holds brokerage REST API endpoints and credentials.
type TastytradeConfig struct {
	BaseURL     string `toml:"base_url"`
	StreamerURL string `toml:"streamer_url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

// StreamConfig holds market-data stream parameters.
type StreamConfig struct {
	// ReferenceSymbol centers option-chain strike selection; its quote must
	// be on the feed before chains can be fetched.
	ReferenceSymbol string `toml:"reference_symbol"`
	// Equities are subscribed at startup alongside any open positions.
	Equities          []string `toml:"equities"`
	MaxHistory        int      `toml:"max_history"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
}

// CoordinatorConfig holds order-coordination parameters.
type CoordinatorConfig struct {
	TickInterval duration `toml:"tick_interval"`
}

// RedisConfig holds parameters for the optional quote mirror.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// PostgresConfig holds parameters for the optional order journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NotifyConfig holds parameters for optional operator alerts. A channel is
// active when its credentials are set; Events limits which order milestones
// are delivered (submitted, filled, retired), empty meaning all.
type NotifyConfig struct {
	DiscordWebhook string   `toml:"discord_webhook"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Tastytrade: TastytradeConfig{
			BaseURL:     "https://api.tastyworks.com",
			StreamerURL: "wss://streamer.tastyworks.com",
		},
		Stream: StreamConfig{
			ReferenceSymbol:   "SPX",
			Equities:          []string{"SPX"},
			MaxHistory:        10,
			HeartbeatInterval: duration{30 * time.Second},
		},
		Coordinator: CoordinatorConfig{
			TickInterval: duration{time.Second},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			QuoteTTL: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tastybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			RunMigrations: true,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Tastytrade.BaseURL == "" {
		errs = append(errs, "tastytrade: base_url must not be empty")
	}
	if c.Tastytrade.StreamerURL == "" {
		errs = append(errs, "tastytrade: streamer_url must not be empty")
	}
	if c.Tastytrade.Username == "" {
		errs = append(errs, "tastytrade: username must not be empty")
	}
	if c.Tastytrade.Password == "" {
		errs = append(errs, "tastytrade: password must not be empty")
	}

	if c.Stream.ReferenceSymbol == "" {
		errs = append(errs, "stream: reference_symbol must not be empty")
	}
	if c.Stream.MaxHistory < 1 {
		errs = append(errs, "stream: max_history must be >= 1")
	}
	if c.Stream.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "stream: heartbeat_interval must be positive")
	}

	if c.Coordinator.TickInterval.Duration <= 0 {
		errs = append(errs, "coordinator: tick_interval must be positive")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id must be set with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
