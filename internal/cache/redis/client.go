// Package redis implements the optional shared-state layer (snapshot cache,
// rate limiter, signal bus) on go-redis/v9. Everything here is skippable:
// the sync engine runs fully in-process when no Redis address is configured.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options mirrors the [redis] config section.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the shared connection behind the three concerns this layer
// offers. Wiring constructs one Client and borrows each concern off the
// same pool.
type Client struct {
	rdb *redis.Client
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	ropts := &redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   opts.PoolSize,
		MaxRetries: opts.MaxRetries,
	}
	if opts.TLSEnabled {
		ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Snapshots returns the collection snapshot store on this connection.
func (c *Client) Snapshots() *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb}
}

// Limiter returns the fleet-wide request limiter on this connection.
func (c *Client) Limiter() *RateLimiter {
	return &RateLimiter{
		rdb:           c.rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

// Bus returns the update signal bus on this connection.
func (c *Client) Bus() *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
