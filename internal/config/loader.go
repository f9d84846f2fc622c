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
// built-in defaults, applies MARKETPULSE_* environment variable overrides,
// and returns the final Config. A missing file is not an error; the defaults
// plus environment are enough to run. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETPULSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators adjust deployments without touching the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setBool(&cfg.Polymarket.Enabled, "MARKETPULSE_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.BaseURL, "MARKETPULSE_POLYMARKET_BASE_URL")

	// ── Kalshi ──
	setBool(&cfg.Kalshi.Enabled, "MARKETPULSE_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "MARKETPULSE_KALSHI_BASE_URL")

	// ── Manifold ──
	setBool(&cfg.Manifold.Enabled, "MARKETPULSE_MANIFOLD_ENABLED")

	// ── Sync ──
	setDuration(&cfg.Sync.FreshFor, "MARKETPULSE_SYNC_FRESH_FOR")
	setDuration(&cfg.Sync.RefreshEvery, "MARKETPULSE_SYNC_REFRESH_EVERY")
	setDuration(&cfg.Sync.FetchTimeout, "MARKETPULSE_SYNC_FETCH_TIMEOUT")

	// ── Feed ──
	setStr(&cfg.Feed.Mode, "MARKETPULSE_FEED_MODE")
	setStr(&cfg.Feed.WsURL, "MARKETPULSE_FEED_WS_URL")
	setInt(&cfg.Feed.MaxRetries, "MARKETPULSE_FEED_MAX_RETRIES")
	setDuration(&cfg.Feed.BackoffBase, "MARKETPULSE_FEED_BACKOFF_BASE")
	setDuration(&cfg.Feed.BackoffMax, "MARKETPULSE_FEED_BACKOFF_MAX")
	setDuration(&cfg.Feed.PollInterval, "MARKETPULSE_FEED_POLL_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETPULSE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETPULSE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "MARKETPULSE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETPULSE_SERVER_RATE_WINDOW")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETPULSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETPULSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETPULSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETPULSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETPULSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETPULSE_REDIS_TLS_ENABLED")

	// ── News ──
	setBool(&cfg.News.Enabled, "MARKETPULSE_NEWS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETPULSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETPULSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETPULSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETPULSE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETPULSE_MODE")
	setStr(&cfg.LogLevel, "MARKETPULSE_LOG_LEVEL")
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
