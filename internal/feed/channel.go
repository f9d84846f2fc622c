package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// State is the live-channel connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed means the retry budget is spent; only an explicit Retry()
	// leaves this state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Channel is a live source of partial market updates. Implementations push
// updates into a Sink; the sink cannot tell transports apart.
type Channel interface {
	// Run drives the channel until ctx is cancelled or Close is called.
	Run(ctx context.Context) error
	// State reports the current connection state.
	State() State
	// Retry requests a reconnect after the retry budget was spent.
	Retry()
	// Close tears the channel down. No sink callbacks happen after Close.
	Close() error
}

// Sink receives reconciled-update traffic from a channel. Implemented by the
// query store.
type Sink interface {
	ApplyPartial(update domain.MarketUpdate) error
	// InvalidateAll is called on (re)connect: updates missed while offline
	// make every cached collection suspect.
	InvalidateAll()
}

// Message types carried in the wire envelope.
const (
	MessageMarketUpdate = "market_update"
	MessageAck          = "ack"
)

// Envelope is the wire frame for live-channel traffic.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// decodeUpdate extracts a MarketUpdate from a market_update envelope. The
// second return is false for frames that must be dropped: wrong type, bad
// JSON, or a missing identity.
func decodeUpdate(env Envelope) (domain.MarketUpdate, bool) {
	if env.Type != MessageMarketUpdate || len(env.Payload) == 0 {
		return domain.MarketUpdate{}, false
	}
	var u domain.MarketUpdate
	if err := json.Unmarshal(env.Payload, &u); err != nil {
		return domain.MarketUpdate{}, false
	}
	if u.Platform == "" || u.ID == "" {
		return domain.MarketUpdate{}, false
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = env.Timestamp
	}
	if u.Timestamp.IsZero() {
		return domain.MarketUpdate{}, false
	}
	return u, true
}
