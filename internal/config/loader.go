package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TASTYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TASTYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject credentials at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Tastytrade ──
	setStr(&cfg.Tastytrade.BaseURL, "TASTYBOT_TASTYTRADE_BASE_URL")
	setStr(&cfg.Tastytrade.StreamerURL, "TASTYBOT_TASTYTRADE_STREAMER_URL")
	setStr(&cfg.Tastytrade.Username, "TASTYBOT_TASTYTRADE_USERNAME")
	setStr(&cfg.Tastytrade.Password, "TASTYBOT_TASTYTRADE_PASSWORD")

	// ── Stream ──
	setStr(&cfg.Stream.ReferenceSymbol, "TASTYBOT_STREAM_REFERENCE_SYMBOL")
	setStringSlice(&cfg.Stream.Equities, "TASTYBOT_STREAM_EQUITIES")
	setInt(&cfg.Stream.MaxHistory, "TASTYBOT_STREAM_MAX_HISTORY")
	setDuration(&cfg.Stream.HeartbeatInterval, "TASTYBOT_STREAM_HEARTBEAT_INTERVAL")

	// ── Coordinator ──
	setDuration(&cfg.Coordinator.TickInterval, "TASTYBOT_COORDINATOR_TICK_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TASTYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TASTYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TASTYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TASTYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TASTYBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TASTYBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "TASTYBOT_REDIS_QUOTE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TASTYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TASTYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TASTYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TASTYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TASTYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TASTYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TASTYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TASTYBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TASTYBOT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TASTYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhook, "TASTYBOT_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "TASTYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TASTYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "TASTYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TASTYBOT_MODE")
	setStr(&cfg.LogLevel, "TASTYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
