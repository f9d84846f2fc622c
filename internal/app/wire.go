package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/cache/redis"
	"github.com/marketpulse/engine/internal/config"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/feed"
	"github.com/marketpulse/engine/internal/fetch"
	"github.com/marketpulse/engine/internal/news"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/platform/kalshi"
	"github.com/marketpulse/engine/internal/platform/manifold"
	"github.com/marketpulse/engine/internal/platform/polymarket"
	"github.com/marketpulse/engine/internal/server/handler"
	"github.com/marketpulse/engine/internal/sync"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Data path
	Aggregator *fetch.Aggregator
	Store      *sync.Store
	Channel    feed.Channel // nil when feed.mode is "off"
	Lookups    map[domain.Platform]handler.MarketLookup

	// News intelligence
	News *news.Service // nil when disabled

	// Optional Redis layer
	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (optional: empty addr disables the whole layer) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.Connect(ctx, redis.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redisClient.Snapshots()
		deps.RateLimiter = redisClient.Limiter()
		deps.SignalBus = redisClient.Bus()
	}

	// --- Platform sources ---
	var sources []fetch.Source
	deps.Lookups = make(map[domain.Platform]handler.MarketLookup)

	if cfg.Polymarket.Enabled {
		client := polymarket.NewClient(cfg.Polymarket.BaseURL)
		sources = append(sources, client)
		deps.Lookups[domain.PlatformPolymarket] = client
	}
	if cfg.Kalshi.Enabled {
		client := kalshi.NewClient(cfg.Kalshi.BaseURL)
		sources = append(sources, client)
		deps.Lookups[domain.PlatformKalshi] = client
	}
	if cfg.Manifold.Enabled {
		client := manifold.NewClient()
		sources = append(sources, client)
		deps.Lookups[domain.PlatformManifold] = client
	}
	if len(sources) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("wire: no platform sources enabled")
	}

	// --- Aggregator and query store ---
	deps.Aggregator = fetch.NewAggregator(sources, cfg.Sync.FetchTimeout.Duration, logger)

	deps.Store = sync.NewStore(deps.Aggregator, sync.Options{
		FreshFor:     cfg.Sync.FreshFor.Duration,
		RefreshEvery: cfg.Sync.RefreshEvery.Duration,
		Cache:        deps.SnapshotCache,
	}, logger)
	closers = append(closers, deps.Store.Close)

	// --- Live-update channel ---
	var sink feed.Sink = deps.Store
	if deps.SignalBus != nil {
		sink = &busSink{store: deps.Store, bus: deps.SignalBus, logger: logger}
	}

	switch strings.ToLower(cfg.Feed.Mode) {
	case "ws":
		deps.Channel = feed.NewWSChannel(cfg.Feed.WsURL, sink, feed.WSOptions{
			MaxRetries:  cfg.Feed.MaxRetries,
			BackoffBase: cfg.Feed.BackoffBase.Duration,
			BackoffMax:  cfg.Feed.BackoffMax.Duration,
		}, logger)
	case "poll":
		deps.Channel = feed.NewPollChannel(deps.Aggregator, domain.Filter{}, sink, feed.PollOptions{
			Interval:    cfg.Feed.PollInterval.Duration,
			MaxRetries:  cfg.Feed.MaxRetries,
			BackoffBase: cfg.Feed.BackoffBase.Duration,
			BackoffMax:  cfg.Feed.BackoffMax.Duration,
		}, logger)
	}
	if deps.Channel != nil {
		ch := deps.Channel
		closers = append(closers, func() { _ = ch.Close() })
	}

	// --- News intelligence ---
	if cfg.News.Enabled {
		deps.News = news.NewService(nil, storeReader{store: deps.Store}, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// storeReader adapts the query store to the news correlator's read-only
// view. It never triggers a network fetch.
type storeReader struct {
	store *sync.Store
}

func (r storeReader) Current(category string, limit int) []domain.MarketState {
	coll, _ := r.store.Get(domain.Filter{Category: category, Limit: limit})
	return coll.Markets
}

// busSink mirrors every accepted live update onto the signal bus so hubs on
// other instances rebroadcast it. Bus failures never block or fail the
// local merge.
type busSink struct {
	store  *sync.Store
	bus    domain.SignalBus
	logger *slog.Logger
}

func (b *busSink) ApplyPartial(update domain.MarketUpdate) error {
	if err := b.store.ApplyPartial(update); err != nil {
		return err
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(map[string]any{
		"type":      "market_update",
		"payload":   json.RawMessage(payload),
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.bus.Publish(ctx, "marketpulse:updates", frame); err != nil {
			b.logger.Warn("bus publish failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (b *busSink) InvalidateAll() {
	b.store.InvalidateAll()
}
