package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marketpulse/engine/internal/domain"
)

// Fetcher produces a reconciled collection for one filter. Implemented by
// fetch.Aggregator; a stub suffices in tests.
type Fetcher interface {
	FetchCollection(ctx context.Context, filter domain.Filter) (domain.Collection, error)
}

// Default freshness and background-refresh windows.
const (
	DefaultFreshFor     = 30 * time.Second
	DefaultRefreshEvery = 60 * time.Second
)

// Options tunes the store. Zero values take the defaults; Cache is optional.
type Options struct {
	FreshFor     time.Duration
	RefreshEvery time.Duration
	Cache        domain.SnapshotCache
}

// Status describes the trustworthiness of what Get returned.
type Status struct {
	Stale     bool
	LastFetch time.Time
	Err       error // last refresh failure, nil when the value is current
}

type entry struct {
	coll      domain.Collection
	hasValue  bool
	lastFetch time.Time
	lastErr   error
	subs      map[int]chan domain.Collection
	nextSub   int
}

// Store is the single shared cache of market collections, keyed by filter.
// All mutation goes through EnsureFresh and ApplyPartial; reads never block
// on the network. Safe for concurrent use.
type Store struct {
	fetcher      Fetcher
	freshFor     time.Duration
	refreshEvery time.Duration
	cache        domain.SnapshotCache
	logger       *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	entries   map[domain.Filter]*entry
	favorites map[domain.MarketKey]bool
	paused    bool
	closed    bool
}

// NewStore creates a Store over the given fetcher.
func NewStore(fetcher Fetcher, opts Options, logger *slog.Logger) *Store {
	if opts.FreshFor <= 0 {
		opts.FreshFor = DefaultFreshFor
	}
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = DefaultRefreshEvery
	}
	return &Store{
		fetcher:      fetcher,
		freshFor:     opts.FreshFor,
		refreshEvery: opts.RefreshEvery,
		cache:        opts.Cache,
		logger:       logger.With(slog.String("component", "store")),
		entries:      make(map[domain.Filter]*entry),
		favorites:    make(map[domain.MarketKey]bool),
	}
}

// Get returns the last known collection for the filter without touching the
// network. Status reports staleness and the last refresh error; a zero-value
// collection with Stale set means nothing has been fetched yet.
func (s *Store) Get(filter domain.Filter) (domain.Collection, Status) {
	filter = filter.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[filter]
	if !ok || !e.hasValue {
		var st Status
		st.Stale = true
		if ok {
			st.Err = e.lastErr
		}
		return domain.Collection{}, st
	}
	return e.coll, Status{
		Stale:     time.Since(e.lastFetch) > s.freshFor,
		LastFetch: e.lastFetch,
		Err:       e.lastErr,
	}
}

// EnsureFresh returns a collection no older than the freshness window,
// fetching if needed. Concurrent callers for the same filter share one
// upstream fetch. On fetch failure the last good value is returned alongside
// the error; callers that have neither get the error alone.
func (s *Store) EnsureFresh(ctx context.Context, filter domain.Filter) (domain.Collection, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Collection{}, domain.ErrStoreClosed
	}
	e := s.entry(filter)
	if e.hasValue && time.Since(e.lastFetch) <= s.freshFor {
		coll := e.coll
		s.mu.Unlock()
		return coll, nil
	}
	s.mu.Unlock()

	key := fmt.Sprintf("%s|%d", filter.Category, filter.Limit)
	v, err, _ := s.group.Do(key, func() (any, error) {
		coll, err := s.fetcher.FetchCollection(ctx, filter)
		if err != nil {
			return nil, err
		}
		return coll, nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Results arriving after teardown are discarded.
		return domain.Collection{}, domain.ErrStoreClosed
	}
	e = s.entry(filter)

	if err != nil {
		e.lastErr = err
		if e.hasValue {
			return e.coll, err
		}
		if cached, ok := s.fromSnapshot(ctx, filter); ok {
			// Serve the persisted snapshot as a stale last-good value;
			// lastFetch stays zero so the next call refetches.
			for i := range cached.Markets {
				cached.Markets[i].Favorite = s.favorites[cached.Markets[i].Key()]
			}
			e.coll = cached
			e.hasValue = true
			return cached, err
		}
		return domain.Collection{}, err
	}

	coll := v.(domain.Collection)
	s.install(filter, e, coll)
	return e.coll, nil
}

// ApplyPartial merges one live update into every collection it belongs to.
// An identity no collection has seen materializes as a skeleton record in
// each matching subscribed collection. Returns ErrStaleUpdate when the
// update was older than every record it addressed.
func (s *Store) ApplyPartial(update domain.MarketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	key := update.Key()
	var seen, applied, inserted bool

	for filter, e := range s.entries {
		if !e.hasValue {
			continue
		}
		if idx := e.coll.Find(key); idx >= 0 {
			seen = true
			merged := Merge(&e.coll.Markets[idx], update)
			if merged.UpdatedAt.Equal(e.coll.Markets[idx].UpdatedAt) {
				continue // stale for this record
			}
			e.coll.Markets[idx] = merged
			applied = true
			s.notify(e)
			continue
		}

		if len(e.subs) == 0 {
			continue
		}
		// The collection never outgrows the size its key promises; a
		// skeleton that doesn't fit waits for the next full refetch.
		if filter.Limit > 0 && len(e.coll.Markets) >= filter.Limit {
			continue
		}
		sk := Merge(nil, update)
		if !filter.Matches(sk.Market) {
			continue
		}
		sk.Favorite = s.favorites[key]
		e.coll.Markets = append(e.coll.Markets, sk)
		inserted = true
		s.notify(e)
	}

	if seen && !applied && !inserted {
		return domain.ErrStaleUpdate
	}
	return nil
}

// Invalidate marks one filter stale; the next EnsureFresh refetches.
func (s *Store) Invalidate(filter domain.Filter) {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[filter]; ok {
		e.lastFetch = time.Time{}
	}
	if s.cache != nil {
		s.invalidateSnapshot(filter)
	}
}

// InvalidateAll marks every cached filter stale. Used on user-forced refresh
// and on live-channel reconnect, when missed updates make every collection
// suspect.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for filter, e := range s.entries {
		e.lastFetch = time.Time{}
		if s.cache != nil {
			s.invalidateSnapshot(filter)
		}
	}
}

// Subscribe registers for reconciled snapshots of the filtered collection.
// The channel holds only the latest snapshot; slow consumers see the newest
// state, never a backlog. The returned cancel is idempotent.
func (s *Store) Subscribe(filter domain.Filter) (<-chan domain.Collection, func()) {
	filter = filter.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(filter)
	id := e.nextSub
	e.nextSub++
	ch := make(chan domain.Collection, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	e.subs[id] = ch
	if e.hasValue {
		ch <- e.coll
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// SetFavorite flips the local-only favorite flag for one identity. The flag
// survives refetches and partial-update merges.
func (s *Store) SetFavorite(key domain.MarketKey, favorite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFavoriteLocked(key, favorite)
}

// ToggleFavorite flips the flag for one identity and reports the new value.
func (s *Store) ToggleFavorite(key domain.MarketKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := !s.favorites[key]
	s.setFavoriteLocked(key, next)
	return next
}

// IsFavorite reports the current flag for one identity.
func (s *Store) IsFavorite(key domain.MarketKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favorites[key]
}

func (s *Store) setFavoriteLocked(key domain.MarketKey, favorite bool) {
	if s.closed {
		return
	}

	if favorite {
		s.favorites[key] = true
	} else {
		delete(s.favorites, key)
	}
	for _, e := range s.entries {
		if idx := e.coll.Find(key); idx >= 0 {
			if e.coll.Markets[idx].Favorite != favorite {
				e.coll.Markets[idx].Favorite = favorite
				s.notify(e)
			}
		}
	}
}

// Pause suppresses background refresh while the view is hidden. Reads and
// live updates keep working.
func (s *Store) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables background refresh.
func (s *Store) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Close tears the store down. Subscriber channels are closed, later writes
// are rejected, and in-flight fetch results are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.entries {
		for id, ch := range e.subs {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// Run drives the background refresh loop until ctx is cancelled. Only
// filters somebody subscribed to are refreshed; a failed refresh keeps the
// last good value and sets the error flag.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refreshSubscribed(ctx)
		}
	}
}

func (s *Store) refreshSubscribed(ctx context.Context) {
	s.mu.Lock()
	if s.paused || s.closed {
		s.mu.Unlock()
		return
	}
	var filters []domain.Filter
	for filter, e := range s.entries {
		if len(e.subs) > 0 {
			filters = append(filters, filter)
		}
	}
	s.mu.Unlock()

	for _, filter := range filters {
		if _, err := s.EnsureFresh(ctx, filter); err != nil {
			s.logger.Warn("background refresh failed",
				slog.String("category", filter.Category),
				slog.Int("limit", filter.Limit),
				slog.String("error", err.Error()),
			)
		}
	}
}

// entry returns the record for a filter, creating it if absent. Caller holds
// the lock.
func (s *Store) entry(filter domain.Filter) *entry {
	e, ok := s.entries[filter]
	if !ok {
		e = &entry{subs: make(map[int]chan domain.Collection)}
		s.entries[filter] = e
	}
	return e
}

// install replaces an entry's collection with a fresh fetch result. Server
// fields are replaced wholesale; identities absent from the result drop out
// of the collection while their favorite flags persist for a comeback.
// Caller holds the lock.
func (s *Store) install(filter domain.Filter, e *entry, coll domain.Collection) {
	for i := range coll.Markets {
		coll.Markets[i].Favorite = s.favorites[coll.Markets[i].Key()]
	}
	e.coll = coll
	e.hasValue = true
	e.lastFetch = time.Now()
	e.lastErr = nil
	s.notify(e)

	if s.cache != nil {
		s.writeSnapshot(filter, coll)
	}
}

// notify pushes the entry's current collection to every subscriber,
// replacing any undelivered snapshot. Caller holds the lock.
func (s *Store) notify(e *entry) {
	e.coll.FetchedAt = e.coll.FetchedAt.UTC()
	for _, ch := range e.subs {
		select {
		case ch <- e.coll:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e.coll:
			default:
			}
		}
	}
}

func (s *Store) fromSnapshot(ctx context.Context, filter domain.Filter) (domain.Collection, bool) {
	if s.cache == nil {
		return domain.Collection{}, false
	}
	coll, err := s.cache.GetCollection(ctx, filter)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("snapshot read failed", slog.String("error", err.Error()))
		}
		return domain.Collection{}, false
	}
	return coll, true
}

func (s *Store) writeSnapshot(filter domain.Filter, coll domain.Collection) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.SetCollection(ctx, filter, coll); err != nil {
			s.logger.Warn("snapshot write failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Store) invalidateSnapshot(filter domain.Filter) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Invalidate(ctx, filter); err != nil {
			s.logger.Warn("snapshot invalidate failed", slog.String("error", err.Error()))
		}
	}()
}
