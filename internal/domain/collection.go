package domain

import "time"

// DefaultLimit is the result-size cap applied when a filter does not specify
// one.
const DefaultLimit = 50

// Filter selects a slice of the market universe: an optional category plus a
// result-size cap. It is comparable and doubles as the cache key for the
// query store.
type Filter struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
}

// Normalize returns a copy with the limit defaulted and clamped to a positive
// value.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	return f
}

// Matches reports whether a market belongs in the filtered collection. An
// empty category matches everything; category comparison is exact, so an
// unknown category simply yields an empty collection.
func (f Filter) Matches(m Market) bool {
	return f.Category == "" || f.Category == m.Category
}

// Collection is the reconciled list of markets for one filter, together with
// the time the data was fetched and whether it is fallback (degraded) data
// rather than live upstream data.
type Collection struct {
	Markets   []MarketState `json:"markets"`
	FetchedAt time.Time     `json:"fetched_at"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Find returns the index of the market with the given identity, or -1.
func (c Collection) Find(key MarketKey) int {
	for i := range c.Markets {
		if c.Markets[i].Key() == key {
			return i
		}
	}
	return -1
}
