package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketpulse/engine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// DefaultMaxRetries is the reconnect budget before the channel parks in
	// the failed state.
	DefaultMaxRetries = 5
)

// WSOptions tunes the WebSocket channel. Zero values take the defaults.
type WSOptions struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// WSChannel consumes market_update envelopes from a WebSocket endpoint and
// feeds them to the sink. It reconnects with exponential backoff and parks
// in the failed state once the retry budget is spent.
type WSChannel struct {
	url        string
	sink       Sink
	maxRetries int
	backoff    backoff
	logger     *slog.Logger

	state   atomic.Int32
	retryCh chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel creates a channel for the given endpoint,
// e.g. "ws://localhost:8000/ws".
func NewWSChannel(url string, sink Sink, opts WSOptions, logger *slog.Logger) *WSChannel {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &WSChannel{
		url:        url,
		sink:       sink,
		maxRetries: opts.MaxRetries,
		backoff:    newBackoff(opts.BackoffBase, opts.BackoffMax),
		logger:     logger.With(slog.String("component", "ws_feed")),
		retryCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// State reports the current connection state.
func (c *WSChannel) State() State {
	return State(c.state.Load())
}

// Retry requests a reconnect attempt after the budget was spent. It is a
// no-op outside the failed state.
func (c *WSChannel) Retry() {
	if c.State() != StateFailed {
		return
	}
	select {
	case c.retryCh <- struct{}{}:
	default:
	}
}

// Close tears the channel down and closes the connection. Idempotent.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}

// Run drives the connect/read/reconnect loop until ctx is cancelled or the
// channel is closed.
func (c *WSChannel) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	attempts := 0
	for {
		if err := c.checkDone(ctx); err != nil {
			return err
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			c.logger.Warn("connect failed",
				slog.String("url", c.url),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			if attempts >= c.maxRetries {
				c.setState(StateFailed)
				c.logger.Error("retry budget spent, waiting for manual retry",
					slog.Int("attempts", attempts))
				if err := c.awaitRetry(ctx); err != nil {
					return err
				}
				attempts = 0
				continue
			}
			c.setState(StateDisconnected)
			if err := c.sleep(ctx, c.backoff.jittered(attempts-1)); err != nil {
				return err
			}
			continue
		}

		c.setState(StateConnected)
		attempts = 0
		// Updates missed while offline make every cached collection suspect.
		c.sink.InvalidateAll()
		c.logger.Info("connected", slog.String("url", c.url))

		err = c.readLoop(conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if derr := c.checkDone(ctx); derr != nil {
			return derr
		}
		c.setState(StateDisconnected)
		c.logger.Warn("disconnected", slog.String("error", err.Error()))
	}
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// readLoop consumes frames until the connection drops. It owns the pong
// deadline and a ping goroutine.
func (c *WSChannel) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		c.handleMessage(raw)
	}
}

func (c *WSChannel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one frame. Malformed frames are dropped and logged;
// acks only prove the link is alive.
func (c *WSChannel) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case MessageAck:
		c.logger.Debug("ack received")
	case MessageMarketUpdate:
		u, ok := decodeUpdate(env)
		if !ok {
			c.logger.Warn("dropping malformed market_update")
			return
		}
		if err := c.sink.ApplyPartial(u); err != nil {
			if errors.Is(err, domain.ErrStaleUpdate) {
				c.logger.Debug("stale update rejected",
					slog.String("platform", string(u.Platform)),
					slog.String("id", u.ID),
				)
				return
			}
			c.logger.Warn("apply update failed", slog.String("error", err.Error()))
		}
	default:
		c.logger.Warn("dropping frame with unknown type", slog.String("type", env.Type))
	}
}

func (c *WSChannel) setState(s State) {
	c.state.Store(int32(s))
}

func (c *WSChannel) checkDone(ctx context.Context) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// awaitRetry blocks in the failed state until Retry is called.
func (c *WSChannel) awaitRetry(ctx context.Context) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-c.retryCh:
		return nil
	}
}

func (c *WSChannel) sleep(ctx context.Context, d time.Duration) error {
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

var _ Channel = (*WSChannel)(nil)
