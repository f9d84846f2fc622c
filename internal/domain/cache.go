package domain

import (
	"context"
	"time"
)

// SnapshotCache persists last-known-good collections so a restarted instance
// can serve data before its first successful fetch.
type SnapshotCache interface {
	SetCollection(ctx context.Context, f Filter, col Collection) error
	GetCollection(ctx context.Context, f Filter) (Collection, error)
	Invalidate(ctx context.Context, f Filter) error
}

// RateLimiter provides distributed rate limiting for the HTTP API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of reconciled updates, used to bridge
// the sync engine to WebSocket hubs on other instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
