package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls atomic.Int64
	coll  domain.Collection
	err   error
	block chan struct{} // when non-nil, Fetch waits for it
}

func (f *stubFetcher) FetchCollection(ctx context.Context, filter domain.Filter) (domain.Collection, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Collection{}, f.err
	}
	return f.coll, nil
}

func (f *stubFetcher) set(coll domain.Collection, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coll = coll
	f.err = err
}

func testCollection(ids ...string) domain.Collection {
	var states []domain.MarketState
	for _, id := range ids {
		states = append(states, domain.MarketState{
			Market: domain.Market{
				Platform:  domain.PlatformPolymarket,
				ID:        id,
				Question:  "q-" + id,
				Volume:    100,
				Status:    domain.MarketStatusOpen,
				UpdatedAt: baseTime,
			},
		})
	}
	return domain.Collection{Markets: states, FetchedAt: baseTime}
}

func newTestStore(f Fetcher) *Store {
	return NewStore(f, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureFreshDeduplicatesConcurrentFetches(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a"), block: make(chan struct{})}
	s := newTestStore(f)
	defer s.Close()

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
				t.Errorf("EnsureFresh: %v", err)
			}
		}()
	}

	// Give every caller time to attach to the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream fetches = %d, want 1", got)
	}
}

func TestEnsureFreshServesFreshValueWithoutRefetch(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("first EnsureFresh: %v", err)
	}
	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("second EnsureFresh: %v", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("upstream fetches = %d, want 1 inside the freshness window", got)
	}
}

func TestEnsureFreshFailureKeepsLastGood(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a", "b")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	s.Invalidate(domain.Filter{})
	f.set(domain.Collection{}, errors.New("upstream down"))

	coll, err := s.EnsureFresh(context.Background(), domain.Filter{})
	if err == nil {
		t.Fatal("want error from failed refresh")
	}
	if len(coll.Markets) != 2 {
		t.Fatalf("failed refresh returned %d markets, want the last good 2", len(coll.Markets))
	}

	got, status := s.Get(domain.Filter{})
	if len(got.Markets) != 2 {
		t.Errorf("Get after failure returned %d markets, want 2", len(got.Markets))
	}
	if status.Err == nil {
		t.Error("status must carry the refresh error")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	s.Invalidate(domain.Filter{})
	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh after invalidate: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("upstream fetches = %d, want 2", got)
	}
}

func TestApplyPartialMergesIntoCollection(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	err := s.ApplyPartial(domain.MarketUpdate{
		Platform:    domain.PlatformPolymarket,
		ID:          "a",
		Probability: ptr(0.61),
		Timestamp:   baseTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ApplyPartial: %v", err)
	}

	coll, _ := s.Get(domain.Filter{})
	if coll.Markets[0].Probability == nil || *coll.Markets[0].Probability != 0.61 {
		t.Errorf("probability = %v, want 0.61", coll.Markets[0].Probability)
	}
}

func TestApplyPartialRejectsStale(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	err := s.ApplyPartial(domain.MarketUpdate{
		Platform:    domain.PlatformPolymarket,
		ID:          "a",
		Probability: ptr(0.99),
		Timestamp:   baseTime.Add(-time.Second),
	})
	if !errors.Is(err, domain.ErrStaleUpdate) {
		t.Fatalf("err = %v, want ErrStaleUpdate", err)
	}

	coll, _ := s.Get(domain.Filter{})
	if coll.Markets[0].Probability != nil {
		t.Errorf("stale update changed probability to %v", *coll.Markets[0].Probability)
	}
}

func TestApplyPartialInsertsSkeletonForSubscribers(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	ch, cancel := s.Subscribe(domain.Filter{})
	defer cancel()
	<-ch // initial snapshot

	err := s.ApplyPartial(domain.MarketUpdate{
		Platform:    domain.PlatformManifold,
		ID:          "never-fetched",
		Probability: ptr(0.3),
		Timestamp:   baseTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ApplyPartial: %v", err)
	}

	select {
	case coll := <-ch:
		idx := coll.Find(domain.MarketKey{Platform: domain.PlatformManifold, ID: "never-fetched"})
		if idx < 0 {
			t.Fatal("skeleton record missing from pushed snapshot")
		}
		if !coll.Markets[idx].Skeleton {
			t.Error("inserted record not marked as skeleton")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot pushed after skeleton insert")
	}
}

func TestApplyPartialSkeletonRespectsLimit(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	filter := domain.Filter{Limit: 1}
	if _, err := s.EnsureFresh(context.Background(), filter); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	ch, cancel := s.Subscribe(filter)
	defer cancel()
	<-ch // initial snapshot

	err := s.ApplyPartial(domain.MarketUpdate{
		Platform:    domain.PlatformManifold,
		ID:          "overflow",
		Probability: ptr(0.3),
		Timestamp:   baseTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ApplyPartial: %v", err)
	}

	coll, _ := s.Get(filter)
	if len(coll.Markets) != 1 {
		t.Fatalf("collection grew to %d records past its limit of 1", len(coll.Markets))
	}
	if coll.Find(domain.MarketKey{Platform: domain.PlatformManifold, ID: "overflow"}) >= 0 {
		t.Error("skeleton inserted past the collection's limit")
	}
}

func TestSetFavoriteSurvivesRefetch(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	key := domain.MarketKey{Platform: domain.PlatformPolymarket, ID: "a"}
	s.SetFavorite(key, true)

	s.Invalidate(domain.Filter{})
	coll, err := s.EnsureFresh(context.Background(), domain.Filter{})
	if err != nil {
		t.Fatalf("EnsureFresh after invalidate: %v", err)
	}
	if !coll.Markets[0].Favorite {
		t.Error("favorite flag lost across a full refetch")
	}
}

func TestFavoriteSurvivesPartialUpdate(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	key := domain.MarketKey{Platform: domain.PlatformPolymarket, ID: "a"}
	s.SetFavorite(key, true)

	if err := s.ApplyPartial(domain.MarketUpdate{
		Platform:    domain.PlatformPolymarket,
		ID:          "a",
		Probability: ptr(0.5),
		Timestamp:   baseTime.Add(time.Minute),
	}); err != nil {
		t.Fatalf("ApplyPartial: %v", err)
	}

	coll, _ := s.Get(domain.Filter{})
	if !coll.Markets[0].Favorite {
		t.Error("favorite flag lost across a partial-update merge")
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)
	defer s.Close()

	_, cancel := s.Subscribe(domain.Filter{})
	cancel()
	cancel()
}

func TestCloseRejectsWrites(t *testing.T) {
	f := &stubFetcher{coll: testCollection("a")}
	s := newTestStore(f)

	ch, cancel := s.Subscribe(domain.Filter{})
	defer cancel()

	s.Close()

	if _, err := s.EnsureFresh(context.Background(), domain.Filter{}); !errors.Is(err, domain.ErrStoreClosed) {
		t.Errorf("EnsureFresh after close: err = %v, want ErrStoreClosed", err)
	}
	if err := s.ApplyPartial(domain.MarketUpdate{
		Platform:  domain.PlatformKalshi,
		ID:        "x",
		Timestamp: time.Now(),
	}); !errors.Is(err, domain.ErrStoreClosed) {
		t.Errorf("ApplyPartial after close: err = %v, want ErrStoreClosed", err)
	}

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after Close")
	}
}
