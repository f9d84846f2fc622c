package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/feed"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/server"
	"github.com/marketpulse/engine/internal/server/handler"
	"github.com/marketpulse/engine/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP drain on exit.
const shutdownTimeout = 10 * time.Second

// feedWatchInterval paces the channel-state watchdog behind the operator
// alerts.
const feedWatchInterval = 5 * time.Second

// ServeMode runs the HTTP + WebSocket API over the query store without a
// live-update channel. Collections still refresh through the store's own
// background loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Store.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// SyncMode runs the sync engine headless: background refresh plus the
// live-update channel, with no HTTP surface. Useful when another instance
// serves the API off shared Redis state.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Store.Run(ctx)
	})
	a.startFeed(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything: background refresh, the live-update channel,
// and the HTTP + WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Store.Run(ctx)
	})
	a.startFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, deps.Channel)

	return g.Wait()
}

// startFeed launches the live-update channel and a watchdog that alerts
// operators when the retry budget is exhausted. A nil channel (feed.mode =
// "off") is a no-op.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Channel == nil {
		a.logger.InfoContext(ctx, "live-update channel disabled")
		return
	}

	g.Go(func() error {
		err := deps.Channel.Run(ctx)
		if errors.Is(err, domain.ErrChannelClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.watchFeed(ctx, deps)
	})
}

// watchFeed polls the channel state and raises feed_failed / feed_recovered
// notifications on transitions in and out of the failed state. The channel
// itself keeps waiting for a manual Retry while failed.
func (a *App) watchFeed(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(feedWatchInterval)
	defer ticker.Stop()

	wasFailed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state := deps.Channel.State()
			switch {
			case state == feed.StateFailed && !wasFailed:
				wasFailed = true
				a.logger.WarnContext(ctx, "live-update channel failed, retry budget spent")
				_ = deps.Notifier.Notify(ctx, notify.Alert{
					Event:     notify.EventFeedFailed,
					Summary:   "Live updates down",
					Detail:    "The live-update channel exhausted its retry budget; data falls back to periodic refresh until a manual retry.",
					FeedState: state.String(),
				})
			case state == feed.StateConnected && wasFailed:
				wasFailed = false
				a.logger.InfoContext(ctx, "live-update channel recovered")
				_ = deps.Notifier.Notify(ctx, notify.Alert{
					Event:     notify.EventFeedRecovered,
					Summary:   "Live updates restored",
					Detail:    "The live-update channel reconnected.",
					FeedState: state.String(),
				})
			}
		}
	}
}

// startHTTPServer builds the handler set, the WebSocket hub, and the server
// itself, and ties their lifecycles to the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, channel feed.Channel) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Store, deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	}, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var statusChannel handler.ChannelStatus
	if channel != nil {
		statusChannel = channel
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, statusChannel, startedAt),
		Markets: handler.NewMarketHandler(deps.Store, deps.Lookups, a.logger),
	}
	if deps.News != nil {
		handlers.News = handler.NewNewsHandler(deps.News, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		return ctx.Err()
	})
}
