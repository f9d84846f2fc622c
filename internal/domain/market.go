package domain

import (
	"strings"
	"time"
)

// Platform identifies the upstream prediction-market source a record came from.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
	PlatformManifold   Platform = "manifold"
)

// ParsePlatform maps an external token (path segment, query value) to a
// known Platform. The comparison is case-insensitive.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformPolymarket, PlatformKalshi, PlatformManifold:
		return p, true
	}
	return "", false
}

// MarketStatus represents the lifecycle state of a market. Upstream
// vocabularies ("active", "open", "settled", "finalized", ...) are mapped to
// this closed set at the platform boundary.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// MarketKey is the identity of a market: the pair (platform, upstream ID).
// It is immutable for the record's lifetime and unique within a cache.
type MarketKey struct {
	Platform Platform `json:"platform"`
	ID       string   `json:"id"`
}

// Market is one prediction market normalized into the canonical shape.
// Numeric fields that an upstream may omit are pointers; nil means "unknown"
// and must never be rendered as a real zero.
type Market struct {
	Platform    Platform     `json:"platform"`
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Probability *float64     `json:"probability,omitempty"` // [0,1]
	Volume      float64      `json:"volume"`
	Liquidity   *float64     `json:"liquidity,omitempty"`
	Change24h   float64      `json:"change_24h"`
	Status      MarketStatus `json:"status"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	URL         string       `json:"url,omitempty"`
	UpdatedAt   time.Time    `json:"last_updated"`
}

// Key returns the market's identity.
func (m Market) Key() MarketKey {
	return MarketKey{Platform: m.Platform, ID: m.ID}
}

// MarketState is a Market plus the purely-local attributes the server does
// not know about. Reconciliation merges never overwrite these.
type MarketState struct {
	Market
	// Favorite is a user-local flag; it survives full refetches and
	// partial-update merges.
	Favorite bool `json:"favorite"`
	// Skeleton marks a record materialized from a partial update for an
	// identity never seen via a full fetch; detail fields are not guaranteed.
	Skeleton bool `json:"skeleton,omitempty"`
}
