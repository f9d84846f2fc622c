package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// DefaultPollInterval is the fixed tick in the connected state.
const DefaultPollInterval = 15 * time.Second

// Fetcher is the read side the polling channel diffs against. Implemented by
// fetch.Aggregator.
type Fetcher interface {
	FetchCollection(ctx context.Context, filter domain.Filter) (domain.Collection, error)
}

// PollOptions tunes the polling channel. Zero values take the defaults.
type PollOptions struct {
	Interval    time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// PollChannel is the polling fallback behind the Channel interface: a
// fixed-interval fetch whose diff against the previous snapshot is turned
// into partial updates. The sink cannot tell it apart from a push transport.
type PollChannel struct {
	fetcher    Fetcher
	filter     domain.Filter
	interval   time.Duration
	maxRetries int
	backoff    backoff
	sink       Sink
	logger     *slog.Logger

	state   atomic.Int32
	retryCh chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	previous map[domain.MarketKey]domain.Market
}

// NewPollChannel creates a polling channel over the given fetcher. The
// filter scopes which slice of the universe is watched.
func NewPollChannel(fetcher Fetcher, filter domain.Filter, sink Sink, opts PollOptions, logger *slog.Logger) *PollChannel {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &PollChannel{
		fetcher:    fetcher,
		filter:     filter.Normalize(),
		interval:   opts.Interval,
		maxRetries: opts.MaxRetries,
		backoff:    newBackoff(opts.BackoffBase, opts.BackoffMax),
		sink:       sink,
		logger:     logger.With(slog.String("component", "poll_feed")),
		retryCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		previous:   make(map[domain.MarketKey]domain.Market),
	}
}

// State reports the current connection state.
func (c *PollChannel) State() State {
	return State(c.state.Load())
}

// Retry requests a reconnect attempt after the budget was spent.
func (c *PollChannel) Retry() {
	if c.State() != StateFailed {
		return
	}
	select {
	case c.retryCh <- struct{}{}:
	default:
	}
}

// Close stops the channel. Idempotent; no sink callbacks after Close.
func (c *PollChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Run drives the poll loop. A successful fetch enters the connected state; a
// failed one counts against the retry budget exactly like a dropped socket.
func (c *PollChannel) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateDisconnected))

	attempts := 0
	for {
		if err := c.checkDone(ctx); err != nil {
			return err
		}

		c.state.Store(int32(StateConnecting))
		if err := c.poll(ctx); err != nil {
			attempts++
			c.logger.Warn("poll failed",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			if attempts >= c.maxRetries {
				c.state.Store(int32(StateFailed))
				if err := c.awaitRetry(ctx); err != nil {
					return err
				}
				attempts = 0
				continue
			}
			c.state.Store(int32(StateDisconnected))
			if err := c.sleep(ctx, c.backoff.jittered(attempts-1)); err != nil {
				return err
			}
			continue
		}

		c.state.Store(int32(StateConnected))
		attempts = 0

		// Soft-removals during the outage are invisible to the diff;
		// flushing the store picks them up on the next read.
		c.sink.InvalidateAll()

		err := c.tickLoop(ctx)
		if errors.Is(err, domain.ErrChannelClosed) || ctx.Err() != nil {
			return err
		}
		c.state.Store(int32(StateDisconnected))
	}
}

// tickLoop polls on a fixed interval while connected and returns on the
// first failure.
func (c *PollChannel) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return domain.ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// poll fetches the watched slice and feeds the diff to the sink.
func (c *PollChannel) poll(ctx context.Context) error {
	coll, err := c.fetcher.FetchCollection(ctx, c.filter)
	if err != nil {
		return err
	}

	next := make(map[domain.MarketKey]domain.Market, len(coll.Markets))
	for _, st := range coll.Markets {
		next[st.Key()] = st.Market
	}

	updates := diffSnapshots(c.previous, next, time.Now().UTC())
	c.previous = next

	for _, u := range updates {
		select {
		case <-c.done:
			return domain.ErrChannelClosed
		default:
		}
		if err := c.sink.ApplyPartial(u); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
			c.logger.Warn("apply update failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// diffSnapshots synthesizes partial updates for every market whose observable
// fields changed between two poll snapshots. Identities absent from the new
// snapshot produce nothing: absence in a partial stream never removes.
func diffSnapshots(prev, next map[domain.MarketKey]domain.Market, ts time.Time) []domain.MarketUpdate {
	var updates []domain.MarketUpdate
	for key, m := range next {
		old, seen := prev[key]
		u := domain.MarketUpdate{
			Platform:  key.Platform,
			ID:        key.ID,
			Timestamp: ts,
		}
		changed := false

		if !seen || old.Question != m.Question {
			q := m.Question
			u.Question = &q
			changed = true
		}
		if !seen || old.Category != m.Category {
			cat := m.Category
			u.Category = &cat
			changed = true
		}
		if m.Probability != nil && (!seen || old.Probability == nil || *old.Probability != *m.Probability) {
			p := *m.Probability
			u.Probability = &p
			changed = true
		}
		if !seen || old.Volume != m.Volume {
			v := m.Volume
			u.Volume = &v
			changed = true
		}
		if m.Liquidity != nil && (!seen || old.Liquidity == nil || *old.Liquidity != *m.Liquidity) {
			l := *m.Liquidity
			u.Liquidity = &l
			changed = true
		}
		if !seen || old.Change24h != m.Change24h {
			ch := m.Change24h
			u.Change24h = &ch
			changed = true
		}
		if !seen || old.Status != m.Status {
			st := m.Status
			u.Status = &st
			changed = true
		}
		if !seen || old.URL != m.URL {
			url := m.URL
			u.URL = &url
			changed = true
		}

		if changed {
			updates = append(updates, u)
		}
	}
	return updates
}

func (c *PollChannel) checkDone(ctx context.Context) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *PollChannel) awaitRetry(ctx context.Context) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-c.retryCh:
		return nil
	}
}

func (c *PollChannel) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Channel = (*PollChannel)(nil)
