package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

type stubSource struct {
	platform domain.Platform
	markets  []domain.Market
	err      error
}

func (s *stubSource) Platform() domain.Platform { return s.platform }

func (s *stubSource) Markets(ctx context.Context, category string, limit int) ([]domain.Market, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.markets, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkMarket(platform domain.Platform, id, category string, volume float64) domain.Market {
	return domain.Market{
		Platform:  platform,
		ID:        id,
		Question:  "q-" + id,
		Category:  category,
		Volume:    volume,
		Status:    domain.MarketStatusOpen,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestFetchCollectionMergesAndSorts(t *testing.T) {
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformPolymarket, markets: []domain.Market{
			mkMarket(domain.PlatformPolymarket, "a", "crypto", 100),
			mkMarket(domain.PlatformPolymarket, "b", "crypto", 900),
		}},
		&stubSource{platform: domain.PlatformKalshi, markets: []domain.Market{
			mkMarket(domain.PlatformKalshi, "c", "crypto", 500),
		}},
	}, time.Second, testLogger())

	coll, err := agg.FetchCollection(context.Background(), domain.Filter{})
	if err != nil {
		t.Fatalf("FetchCollection: %v", err)
	}
	if len(coll.Markets) != 3 {
		t.Fatalf("got %d markets, want 3", len(coll.Markets))
	}
	for i := 1; i < len(coll.Markets); i++ {
		if coll.Markets[i].Volume > coll.Markets[i-1].Volume {
			t.Errorf("markets not sorted by volume desc at index %d", i)
		}
	}
	if coll.Markets[0].ID != "b" {
		t.Errorf("highest-volume market = %s, want b", coll.Markets[0].ID)
	}
	if coll.Degraded {
		t.Error("live fetch should not be marked degraded")
	}
	if coll.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestFetchCollectionAppliesLimit(t *testing.T) {
	var markets []domain.Market
	for i := 0; i < 10; i++ {
		markets = append(markets, mkMarket(domain.PlatformManifold, string(rune('a'+i)), "", float64(i)))
	}
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformManifold, markets: markets},
	}, time.Second, testLogger())

	coll, err := agg.FetchCollection(context.Background(), domain.Filter{Limit: 4})
	if err != nil {
		t.Fatalf("FetchCollection: %v", err)
	}
	if len(coll.Markets) != 4 {
		t.Fatalf("got %d markets, want 4", len(coll.Markets))
	}
}

func TestFetchCollectionPartialFailure(t *testing.T) {
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformPolymarket, err: errors.New("connection refused")},
		&stubSource{platform: domain.PlatformKalshi, markets: []domain.Market{
			mkMarket(domain.PlatformKalshi, "k1", "politics", 10),
		}},
	}, time.Second, testLogger())

	coll, err := agg.FetchCollection(context.Background(), domain.Filter{})
	if err != nil {
		t.Fatalf("partial failure must be absorbed, got %v", err)
	}
	if len(coll.Markets) != 1 || coll.Markets[0].ID != "k1" {
		t.Fatalf("got %+v, want the surviving source's market", coll.Markets)
	}
}

func TestFetchCollectionAllSourcesFail(t *testing.T) {
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformPolymarket, err: errors.New("boom")},
		&stubSource{platform: domain.PlatformKalshi, err: context.DeadlineExceeded},
	}, time.Second, testLogger())

	_, err := agg.FetchCollection(context.Background(), domain.Filter{})
	if err == nil {
		t.Fatal("want error when every source fails")
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %v does not carry a FetchError", err)
	}
}

func TestFetchCollectionNoSources(t *testing.T) {
	agg := NewAggregator(nil, time.Second, testLogger())

	_, err := agg.FetchCollection(context.Background(), domain.Filter{})
	if err == nil {
		t.Fatal("want error with no sources configured")
	}
}

func TestFetchCollectionTimeoutKind(t *testing.T) {
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformManifold, err: context.DeadlineExceeded},
	}, time.Second, testLogger())

	_, err := agg.FetchCollection(context.Background(), domain.Filter{})
	if err == nil {
		t.Fatal("want error")
	}
	if kind := domain.FailureKindOf(err); kind != domain.FailureTimeout {
		t.Errorf("failure kind = %s, want %s", kind, domain.FailureTimeout)
	}
}

func TestFetchCollectionUnknownCategory(t *testing.T) {
	agg := NewAggregator([]Source{
		&stubSource{platform: domain.PlatformPolymarket, markets: []domain.Market{
			mkMarket(domain.PlatformPolymarket, "a", "crypto", 100),
		}},
	}, time.Second, testLogger())

	coll, err := agg.FetchCollection(context.Background(), domain.Filter{Category: "no-such-category"})
	if err != nil {
		t.Fatalf("unknown category must not error: %v", err)
	}
	if len(coll.Markets) != 0 {
		t.Fatalf("got %d markets, want 0", len(coll.Markets))
	}
}

func TestFallbackCollection(t *testing.T) {
	coll := FallbackCollection(domain.Filter{})
	if !coll.Degraded {
		t.Error("fallback must be marked degraded")
	}
	if len(coll.Markets) == 0 {
		t.Fatal("fallback must never be empty for an empty category")
	}
	for _, m := range coll.Markets {
		if m.Status != domain.MarketStatusOpen {
			t.Errorf("market %s status = %s, want open", m.ID, m.Status)
		}
		if m.Probability == nil {
			t.Errorf("market %s has no probability", m.ID)
		}
	}
}

func TestFallbackCollectionCategoryAndLimit(t *testing.T) {
	coll := FallbackCollection(domain.Filter{Category: "politics", Limit: 2})
	if len(coll.Markets) == 0 {
		t.Fatal("politics fallback is empty")
	}
	if len(coll.Markets) > 2 {
		t.Fatalf("got %d markets, want at most 2", len(coll.Markets))
	}
	for _, m := range coll.Markets {
		if m.Category != "politics" {
			t.Errorf("market %s category = %s, want politics", m.ID, m.Category)
		}
	}
}
