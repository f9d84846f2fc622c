package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

type recordingSink struct {
	mu          sync.Mutex
	updates     []domain.MarketUpdate
	invalidated int
}

func (s *recordingSink) ApplyPartial(u domain.MarketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *recordingSink) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func (s *recordingSink) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

func (s *recordingSink) all() []domain.MarketUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MarketUpdate(nil), s.updates...)
}

type scriptedFetcher struct {
	mu    sync.Mutex
	colls []domain.Collection
	errs  []error
	calls int
}

func (f *scriptedFetcher) FetchCollection(ctx context.Context, filter domain.Filter) (domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.colls) {
		i = len(f.colls) - 1
	}
	if f.errs[i] != nil {
		return domain.Collection{}, f.errs[i]
	}
	return f.colls[i], nil
}

func feedTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pollMarket(id string, prob float64, volume float64) domain.MarketState {
	p := prob
	return domain.MarketState{
		Market: domain.Market{
			Platform:    domain.PlatformPolymarket,
			ID:          id,
			Question:    "q-" + id,
			Probability: &p,
			Volume:      volume,
			Status:      domain.MarketStatusOpen,
			UpdatedAt:   time.Now().UTC(),
		},
	}
}

func TestDiffSnapshotsEmitsOnlyChanges(t *testing.T) {
	ts := time.Now().UTC()
	key := domain.MarketKey{Platform: domain.PlatformPolymarket, ID: "a"}

	prob := 0.4
	prev := map[domain.MarketKey]domain.Market{
		key: {
			Platform: key.Platform, ID: key.ID,
			Question:    "will it happen",
			Probability: &prob,
			Volume:      100,
			Status:      domain.MarketStatusOpen,
		},
	}
	newProb := 0.55
	next := map[domain.MarketKey]domain.Market{
		key: {
			Platform: key.Platform, ID: key.ID,
			Question:    "will it happen",
			Probability: &newProb,
			Volume:      100,
			Status:      domain.MarketStatusOpen,
		},
	}

	updates := diffSnapshots(prev, next, ts)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Probability == nil || *u.Probability != 0.55 {
		t.Errorf("probability = %v, want 0.55", u.Probability)
	}
	// Unchanged fields must be absent from the partial.
	if u.Question != nil || u.Volume != nil || u.Status != nil {
		t.Errorf("unchanged fields present in partial: %+v", u)
	}
	if !u.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", u.Timestamp, ts)
	}
}

func TestDiffSnapshotsNoChangesNoUpdates(t *testing.T) {
	key := domain.MarketKey{Platform: domain.PlatformKalshi, ID: "b"}
	snap := map[domain.MarketKey]domain.Market{
		key: {Platform: key.Platform, ID: key.ID, Question: "stable", Volume: 5},
	}
	if updates := diffSnapshots(snap, snap, time.Now()); len(updates) != 0 {
		t.Fatalf("identical snapshots produced %d updates", len(updates))
	}
}

func TestDiffSnapshotsAbsenceRemovesNothing(t *testing.T) {
	key := domain.MarketKey{Platform: domain.PlatformManifold, ID: "gone"}
	prev := map[domain.MarketKey]domain.Market{
		key: {Platform: key.Platform, ID: key.ID, Question: "vanishing", Volume: 1},
	}
	next := map[domain.MarketKey]domain.Market{}

	if updates := diffSnapshots(prev, next, time.Now()); len(updates) != 0 {
		t.Fatalf("identity absent from snapshot produced %d updates, want 0", len(updates))
	}
}

func TestDiffSnapshotsNewIdentityCarriesAllFields(t *testing.T) {
	key := domain.MarketKey{Platform: domain.PlatformKalshi, ID: "fresh"}
	prob := 0.7
	next := map[domain.MarketKey]domain.Market{
		key: {
			Platform: key.Platform, ID: key.ID,
			Question:    "brand new",
			Probability: &prob,
			Volume:      50,
			Status:      domain.MarketStatusOpen,
			URL:         "https://kalshi.com/trade/fresh",
		},
	}

	updates := diffSnapshots(nil, next, time.Now())
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Question == nil || u.Probability == nil || u.Volume == nil || u.Status == nil || u.URL == nil {
		t.Errorf("new identity update missing fields: %+v", u)
	}
}

func TestPollChannelFeedsDiffsToSink(t *testing.T) {
	first := domain.Collection{Markets: []domain.MarketState{pollMarket("a", 0.4, 100)}}
	second := domain.Collection{Markets: []domain.MarketState{pollMarket("a", 0.6, 100)}}

	f := &scriptedFetcher{
		colls: []domain.Collection{first, second},
		errs:  []error{nil, nil},
	}
	sink := &recordingSink{}
	ch := NewPollChannel(f, domain.Filter{}, sink, PollOptions{Interval: 10 * time.Millisecond}, feedTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		updates := sink.all()
		if len(updates) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out; got %d updates", len(updates))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	updates := sink.all()
	// First poll emits the full record, second poll only the probability move.
	if updates[0].Question == nil {
		t.Error("first update should carry the full record")
	}
	last := updates[len(updates)-1]
	if last.Probability == nil || *last.Probability != 0.6 {
		t.Errorf("last update probability = %v, want 0.6", last.Probability)
	}
	if last.Question != nil {
		t.Error("second update should only carry changed fields")
	}
}

func TestPollChannelInvalidatesOnConnect(t *testing.T) {
	boom := errors.New("upstream down")
	ok := domain.Collection{Markets: []domain.MarketState{pollMarket("a", 0.5, 10)}}
	f := &scriptedFetcher{
		colls: []domain.Collection{ok, {}, ok},
		errs:  []error{nil, boom, nil},
	}
	sink := &recordingSink{}
	ch := NewPollChannel(f, domain.Filter{}, sink, PollOptions{
		Interval:    10 * time.Millisecond,
		MaxRetries:  5,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, feedTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	// Connect, drop on the failed poll, reconnect: two invalidations.
	deadline := time.After(2 * time.Second)
	for sink.invalidations() < 2 {
		select {
		case <-deadline:
			t.Fatalf("got %d invalidations, want 2", sink.invalidations())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPollChannelFailsAfterRetryBudget(t *testing.T) {
	boom := errors.New("upstream down")
	f := &scriptedFetcher{
		colls: []domain.Collection{{}},
		errs:  []error{boom},
	}
	sink := &recordingSink{}
	ch := NewPollChannel(f, domain.Filter{}, sink, PollOptions{
		Interval:    time.Hour,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, feedTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ch.State() != StateFailed {
		select {
		case <-deadline:
			t.Fatalf("channel never reached failed state, state = %s", ch.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	_ = ch.Close()
	if err := <-done; !errors.Is(err, domain.ErrChannelClosed) {
		t.Errorf("Run returned %v, want ErrChannelClosed", err)
	}
}

func TestPollChannelRetryLeavesFailedState(t *testing.T) {
	boom := errors.New("upstream down")
	ok := domain.Collection{Markets: []domain.MarketState{pollMarket("a", 0.5, 10)}}
	f := &scriptedFetcher{
		colls: []domain.Collection{{}, {}, ok},
		errs:  []error{boom, boom, nil},
	}
	sink := &recordingSink{}
	ch := NewPollChannel(f, domain.Filter{}, sink, PollOptions{
		Interval:    time.Hour,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, feedTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ch.State() != StateFailed {
		select {
		case <-deadline:
			t.Fatalf("channel never reached failed state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ch.Retry()

	for ch.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatalf("channel never reconnected after Retry, state = %s", ch.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	_ = ch.Close()
	<-done
}
