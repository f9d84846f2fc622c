package kalshi

import (
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// APIMarket represents a market as returned by the Kalshi trade API.
// Prices are integer cents in [0,100].
type APIMarket struct {
	Ticker        string  `json:"ticker"`
	EventTicker   string  `json:"event_ticker"`
	Title         string  `json:"title"`
	Subtitle      string  `json:"subtitle"`
	Category      string  `json:"category"`
	Status        string  `json:"status"` // "active", "closed", "settled", ...
	LastPrice     float64 `json:"last_price"`
	PreviousPrice float64 `json:"previous_price"`
	Volume        float64 `json:"volume"`
	Volume24H     float64 `json:"volume_24h"`
	OpenInterest  float64 `json:"open_interest"`
	OpenTime      string  `json:"open_time"`
	CloseTime     string  `json:"close_time"`
	Result        string  `json:"result"` // "yes", "no", "" (unsettled)
}

// kalshiStatus maps the API status vocabulary to the canonical one.
var kalshiStatus = map[string]domain.MarketStatus{
	"unopened":  domain.MarketStatusClosed,
	"open":      domain.MarketStatusOpen,
	"active":    domain.MarketStatusOpen,
	"paused":    domain.MarketStatusClosed,
	"closed":    domain.MarketStatusClosed,
	"settled":   domain.MarketStatusResolved,
	"finalized": domain.MarketStatusResolved,
}

// ToDomainMarket converts the Kalshi DTO to a domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		Platform:    domain.PlatformKalshi,
		ID:          m.Ticker,
		Question:    m.Title,
		Description: m.Subtitle,
		Category:    strings.ToLower(m.Category),
		Volume:      m.Volume,
		Change24h:   (m.LastPrice - m.PreviousPrice) / 100,
		Status:      m.status(),
		URL:         "https://kalshi.com/trade/" + m.Ticker,
		UpdatedAt:   time.Now().UTC(),
	}

	// A last price of zero means no trades yet, not a zero probability.
	if m.LastPrice > 0 {
		p := m.LastPrice / 100
		out.Probability = &p
	}
	if m.OpenInterest > 0 {
		oi := m.OpenInterest
		out.Liquidity = &oi
	}
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		out.EndDate = &t
	}
	return out
}

func (m *APIMarket) status() domain.MarketStatus {
	if s, ok := kalshiStatus[strings.ToLower(m.Status)]; ok {
		return s
	}
	if m.Result != "" {
		return domain.MarketStatusResolved
	}
	return domain.MarketStatusClosed
}
