package domain

import "time"

// MarketUpdate is a partial update for one market: the identity, the message
// timestamp, and whatever subset of fields the message carried. Nil fields
// were absent from the message and must not be touched by a merge.
type MarketUpdate struct {
	Platform    Platform      `json:"platform"`
	ID          string        `json:"id"`
	Question    *string       `json:"question,omitempty"`
	Category    *string       `json:"category,omitempty"`
	Probability *float64      `json:"probability,omitempty"`
	Volume      *float64      `json:"volume,omitempty"`
	Liquidity   *float64      `json:"liquidity,omitempty"`
	Change24h   *float64      `json:"change_24h,omitempty"`
	Status      *MarketStatus `json:"status,omitempty"`
	URL         *string       `json:"url,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Key returns the identity the update refers to.
func (u MarketUpdate) Key() MarketKey {
	return MarketKey{Platform: u.Platform, ID: u.ID}
}
