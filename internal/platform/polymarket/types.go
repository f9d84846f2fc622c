package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Numeric fields arrive as strings; outcome prices are a JSON-encoded array
// inside a string, e.g. "[\"0.65\",\"0.35\"]".
type APIMarket struct {
	ID                  string   `json:"id"`
	Question            string   `json:"question"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	Slug                string   `json:"slug"`
	Active              flexBool `json:"active"`
	Closed              bool     `json:"closed"`
	OutcomePrices       string   `json:"outcomePrices"`
	LastTradePrice      float64  `json:"lastTradePrice"`
	Volume              string   `json:"volume"`
	OneDayPriceChange   float64  `json:"oneDayPriceChange"`
	Liquidity           string   `json:"liquidity"`
	EndDateISO          string   `json:"endDateIso"`
	UpdatedAt           string   `json:"updatedAt"`
	UMAResolutionStatus string   `json:"umaResolutionStatus"`
}

// ToDomainMarket converts the Gamma DTO to a domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	out := domain.Market{
		Platform:    domain.PlatformPolymarket,
		ID:          m.ID,
		Question:    m.Question,
		Description: m.Description,
		Category:    strings.ToLower(m.Category),
		Volume:      parseFloat(m.Volume),
		Change24h:   m.OneDayPriceChange,
		Status:      m.status(),
		URL:         m.url(),
		UpdatedAt:   time.Now().UTC(),
	}

	if p, ok := m.probability(); ok {
		out.Probability = &p
	}
	if m.Liquidity != "" {
		liq := parseFloat(m.Liquidity)
		out.Liquidity = &liq
	}
	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		out.EndDate = &t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		out.UpdatedAt = t
	}
	return out
}

func (m *APIMarket) status() domain.MarketStatus {
	switch {
	case strings.EqualFold(m.UMAResolutionStatus, "resolved"):
		return domain.MarketStatusResolved
	case m.Closed, !bool(m.Active):
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusOpen
	}
}

// probability returns the Yes price: the first entry of outcomePrices when
// present, the last trade price otherwise.
func (m *APIMarket) probability() (float64, bool) {
	if m.OutcomePrices != "" {
		var prices []string
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err == nil && len(prices) > 0 {
			if p, err := strconv.ParseFloat(prices[0], 64); err == nil {
				return p, true
			}
		}
	}
	if m.LastTradePrice > 0 {
		return m.LastTradePrice, true
	}
	return 0, false
}

func (m *APIMarket) url() string {
	slug := m.Slug
	if slug == "" {
		slug = m.ID
	}
	return "https://polymarket.com/market/" + slug
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
