package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketpulse/engine/internal/domain"
)

const snapshotTTL = 10 * time.Minute

// SnapshotCache implements domain.SnapshotCache using JSON-serialized
// collections with a TTL. A restarted instance warm-starts from the last
// good snapshot instead of an empty cache.
//
// Key schema:
//
//	snapshot:{category}:{limit} - JSON-encoded Collection
type SnapshotCache struct {
	rdb *redis.Client
}

func snapshotKey(f domain.Filter) string {
	return "snapshot:" + f.Category + ":" + strconv.Itoa(f.Limit)
}

// SetCollection stores a collection snapshot with a 10-minute TTL.
func (sc *SnapshotCache) SetCollection(ctx context.Context, f domain.Filter, col domain.Collection) error {
	f = f.Normalize()
	data, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snapshotKey(f), err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(f), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snapshotKey(f), err)
	}
	return nil
}

// GetCollection retrieves a collection snapshot.
// It returns domain.ErrNotFound when the key does not exist.
func (sc *SnapshotCache) GetCollection(ctx context.Context, f domain.Filter) (domain.Collection, error) {
	f = f.Normalize()
	data, err := sc.rdb.Get(ctx, snapshotKey(f)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Collection{}, domain.ErrNotFound
		}
		return domain.Collection{}, fmt.Errorf("redis: get snapshot %s: %w", snapshotKey(f), err)
	}

	var col domain.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return domain.Collection{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", snapshotKey(f), err)
	}
	return col, nil
}

// Invalidate removes a collection snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, f domain.Filter) error {
	f = f.Normalize()
	if err := sc.rdb.Del(ctx, snapshotKey(f)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", snapshotKey(f), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
