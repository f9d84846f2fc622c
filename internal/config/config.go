// Package config defines the top-level configuration for the marketpulse
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETPULSE_* environment
// variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Manifold   ManifoldConfig   `toml:"manifold"`
	Sync       SyncConfig       `toml:"sync"`
	Feed       FeedConfig       `toml:"feed"`
	Server     ServerConfig     `toml:"server"`
	Redis      RedisConfig      `toml:"redis"`
	News       NewsConfig       `toml:"news"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the Polymarket Gamma API endpoint.
type PolymarketConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
}

// KalshiConfig holds the Kalshi exchange API endpoint. Only the public,
// unauthenticated market endpoints are used.
type KalshiConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
}

// ManifoldConfig toggles the Manifold source. The client library carries its
// own endpoint, so there is nothing else to configure.
type ManifoldConfig struct {
	Enabled bool `toml:"enabled"`
}

// SyncConfig holds the query-store freshness and refresh parameters.
type SyncConfig struct {
	FreshFor     duration `toml:"fresh_for"`
	RefreshEvery duration `toml:"refresh_every"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

// FeedConfig holds the live-update channel parameters.
type FeedConfig struct {
	// Mode selects the transport: "ws", "poll", or "off".
	Mode         string   `toml:"mode"`
	WsURL        string   `toml:"ws_url"`
	MaxRetries   int      `toml:"max_retries"`
	BackoffBase  duration `toml:"backoff_base"`
	BackoffMax   duration `toml:"backoff_max"`
	PollInterval duration `toml:"poll_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// RedisConfig holds Redis connection parameters. An empty addr disables the
// whole Redis layer (snapshot cache, distributed rate limiter, signal bus).
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NewsConfig holds the news intelligence parameters.
type NewsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NotifyConfig holds notification channel credentials. Both channels are
// optional; with neither configured, alerts only reach the log.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Polymarket: PolymarketConfig{
			Enabled: true,
			BaseURL: "https://gamma-api.polymarket.com",
		},
		Kalshi: KalshiConfig{
			Enabled: true,
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Manifold: ManifoldConfig{
			Enabled: true,
		},
		Sync: SyncConfig{
			FreshFor:     duration{30 * time.Second},
			RefreshEvery: duration{60 * time.Second},
			FetchTimeout: duration{10 * time.Second},
		},
		Feed: FeedConfig{
			Mode:         "poll",
			WsURL:        "ws://localhost:8000/ws",
			MaxRetries:   5,
			BackoffBase:  duration{2 * time.Second},
			BackoffMax:   duration{60 * time.Second},
			PollInterval: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		News: NewsConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{
			Events: []string{"feed_failed", "feed_recovered"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFeedModes enumerates the accepted values for FeedConfig.Mode.
var validFeedModes = map[string]bool{
	"ws":   true,
	"poll": true,
	"off":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Platforms: at least one source must be enabled or every collection
	// would be permanently degraded.
	if !c.Polymarket.Enabled && !c.Kalshi.Enabled && !c.Manifold.Enabled {
		errs = append(errs, "platforms: at least one of polymarket, kalshi, manifold must be enabled")
	}
	if c.Polymarket.Enabled && c.Polymarket.BaseURL == "" {
		errs = append(errs, "polymarket: base_url must not be empty when enabled")
	}
	if c.Kalshi.Enabled && c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty when enabled")
	}

	// Sync
	if c.Sync.FreshFor.Duration <= 0 {
		errs = append(errs, "sync: fresh_for must be > 0")
	}
	if c.Sync.RefreshEvery.Duration <= 0 {
		errs = append(errs, "sync: refresh_every must be > 0")
	}
	if c.Sync.FetchTimeout.Duration <= 0 {
		errs = append(errs, "sync: fetch_timeout must be > 0")
	}
	if c.Sync.RefreshEvery.Duration < c.Sync.FreshFor.Duration {
		errs = append(errs, "sync: refresh_every must not be shorter than fresh_for")
	}

	// Feed
	if !validFeedModes[strings.ToLower(c.Feed.Mode)] {
		errs = append(errs, fmt.Sprintf("feed: unknown mode %q (valid: ws, poll, off)", c.Feed.Mode))
	}
	if strings.ToLower(c.Feed.Mode) == "ws" && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty in ws mode")
	}
	if c.Feed.MaxRetries < 1 {
		errs = append(errs, "feed: max_retries must be >= 1")
	}
	if c.Feed.BackoffBase.Duration <= 0 {
		errs = append(errs, "feed: backoff_base must be > 0")
	}
	if c.Feed.BackoffMax.Duration < c.Feed.BackoffBase.Duration {
		errs = append(errs, "feed: backoff_max must not be shorter than backoff_base")
	}
	if strings.ToLower(c.Feed.Mode) == "poll" && c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0 in poll mode")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Redis checks apply only when the layer is enabled at all.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
