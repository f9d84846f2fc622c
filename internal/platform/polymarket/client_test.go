package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marketpulse/engine/internal/domain"
)

const gammaMarket = `{
	"id": "0x1",
	"question": "Will it happen?",
	"description": "A test market",
	"category": "Politics",
	"slug": "will-it-happen",
	"active": "true",
	"closed": false,
	"outcomePrices": "[\"0.65\",\"0.35\"]",
	"lastTradePrice": 0.6,
	"volume": "125000.5",
	"oneDayPriceChange": 0.03,
	"liquidity": "40000",
	"endDateIso": "2026-12-31T00:00:00Z",
	"updatedAt": "2026-08-01T12:00:00Z"
}`

func TestMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("path = %s, want /markets", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("category") != "politics" {
			t.Errorf("category = %q, want politics", q.Get("category"))
		}
		if q.Get("limit") != "10" {
			t.Errorf("limit = %q, want 10", q.Get("limit"))
		}
		if q.Get("active") != "true" {
			t.Errorf("active = %q, want true", q.Get("active"))
		}
		w.Write([]byte("[" + gammaMarket + "]"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	markets, err := client.Markets(context.Background(), "politics", 10)
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(markets))
	}

	m := markets[0]
	if m.Platform != domain.PlatformPolymarket {
		t.Errorf("platform = %s", m.Platform)
	}
	if m.ID != "0x1" || m.Question != "Will it happen?" {
		t.Errorf("identity = %s / %q", m.ID, m.Question)
	}
	if m.Category != "politics" {
		t.Errorf("category = %q, not lowercased", m.Category)
	}
	if m.Probability == nil || *m.Probability != 0.65 {
		t.Errorf("probability = %v, want 0.65 from outcomePrices", m.Probability)
	}
	if m.Volume != 125000.5 {
		t.Errorf("volume = %v", m.Volume)
	}
	if m.Liquidity == nil || *m.Liquidity != 40000 {
		t.Errorf("liquidity = %v", m.Liquidity)
	}
	if m.Change24h != 0.03 {
		t.Errorf("change24h = %v", m.Change24h)
	}
	if m.Status != domain.MarketStatusOpen {
		t.Errorf("status = %s, want open", m.Status)
	}
	if m.EndDate == nil || m.EndDate.Year() != 2026 {
		t.Errorf("endDate = %v", m.EndDate)
	}
	if m.URL != "https://polymarket.com/market/will-it-happen" {
		t.Errorf("url = %q", m.URL)
	}
}

func TestMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such market", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Market(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarketsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Markets(context.Background(), "", 10)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		m    APIMarket
		want domain.MarketStatus
	}{
		{"active open", APIMarket{Active: true}, domain.MarketStatusOpen},
		{"closed flag", APIMarket{Active: true, Closed: true}, domain.MarketStatusClosed},
		{"inactive", APIMarket{Active: false}, domain.MarketStatusClosed},
		{"uma resolved wins", APIMarket{Active: true, Closed: true, UMAResolutionStatus: "resolved"}, domain.MarketStatusResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.status(); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFlexBool(t *testing.T) {
	var m APIMarket
	for raw, want := range map[string]bool{
		`{"active": true}`:    true,
		`{"active": "true"}`:  true,
		`{"active": "TRUE"}`:  true,
		`{"active": "1"}`:     true,
		`{"active": false}`:   false,
		`{"active": "false"}`: false,
	} {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if bool(m.Active) != want {
			t.Errorf("%s: active = %v, want %v", raw, m.Active, want)
		}
	}
}

func TestProbabilityFallsBackToLastTrade(t *testing.T) {
	m := APIMarket{LastTradePrice: 0.42}
	p, ok := m.probability()
	if !ok || p != 0.42 {
		t.Errorf("probability = %v/%v, want 0.42 from last trade", p, ok)
	}

	m = APIMarket{}
	if _, ok := m.probability(); ok {
		t.Error("probability reported without any price source")
	}
}
