package sync

import (
	"github.com/marketpulse/engine/internal/domain"
)

// Merge reconciles a partial update against the current record. It is pure:
// no clocks, no side effects, same inputs always produce the same output.
//
// Rules, in order:
//  1. no current record: materialize a skeleton from the partial;
//  2. update.Timestamp <= current.UpdatedAt: return current unchanged;
//  3. otherwise shallow-merge the fields present in the update, keep
//     local-only fields, and advance UpdatedAt to the update timestamp.
func Merge(current *domain.MarketState, update domain.MarketUpdate) domain.MarketState {
	if current == nil {
		return skeleton(update)
	}
	if !update.Timestamp.After(current.UpdatedAt) {
		return *current
	}

	merged := *current
	applyFields(&merged.Market, update)
	merged.UpdatedAt = update.Timestamp
	return merged
}

// skeleton builds a record for an identity never seen via a full fetch. Only
// the fields the update carried are real; the Skeleton flag tells the
// presentation layer not to trust the rest.
func skeleton(update domain.MarketUpdate) domain.MarketState {
	s := domain.MarketState{
		Market: domain.Market{
			Platform:  update.Platform,
			ID:        update.ID,
			Status:    domain.MarketStatusOpen,
			UpdatedAt: update.Timestamp,
		},
		Skeleton: true,
	}
	applyFields(&s.Market, update)
	return s
}

// applyFields copies every non-nil update field onto the market. Absent
// fields never touch existing values.
func applyFields(m *domain.Market, u domain.MarketUpdate) {
	if u.Question != nil {
		m.Question = *u.Question
	}
	if u.Category != nil {
		m.Category = *u.Category
	}
	if u.Probability != nil {
		p := *u.Probability
		m.Probability = &p
	}
	if u.Volume != nil {
		m.Volume = *u.Volume
	}
	if u.Liquidity != nil {
		l := *u.Liquidity
		m.Liquidity = &l
	}
	if u.Change24h != nil {
		m.Change24h = *u.Change24h
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.URL != nil {
		m.URL = *u.URL
	}
}
