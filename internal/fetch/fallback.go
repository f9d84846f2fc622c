package fetch

import (
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// fallbackSeed is one static sample record, stamped per platform.
type fallbackSeed struct {
	slug        string
	question    string
	description string
	category    string
	probability float64
	volume      float64
	liquidity   float64
	path        string
}

// fallbackSeeds are the demo records served when every upstream is down. The
// set spans the categories the dashboard renders so the degraded view still
// exercises every filter.
var fallbackSeeds = []fallbackSeed{
	{
		slug:        "btc_100k",
		question:    "Will Bitcoin reach $100,000 by end of 2025?",
		description: "Binary market on BTC price target",
		category:    "crypto",
		probability: 0.67,
		volume:      2500000,
		liquidity:   500000,
		path:        "btc-100k",
	},
	{
		slug:        "eth_5k",
		question:    "Will Ethereum reach $5,000 by Q2 2025?",
		description: "ETH price prediction market",
		category:    "crypto",
		probability: 0.45,
		volume:      1200000,
		liquidity:   300000,
		path:        "eth-5k",
	},
	{
		slug:        "election",
		question:    "2024 Presidential Election Winner",
		description: "Who will win the 2024 US Presidential Election?",
		category:    "politics",
		probability: 0.52,
		volume:      8500000,
		liquidity:   1200000,
		path:        "election-2024",
	},
	{
		slug:        "ai_agi",
		question:    "Will AGI be achieved by 2027?",
		description: "General artificial intelligence development timeline",
		category:    "technology",
		probability: 0.23,
		volume:      1500000,
		liquidity:   400000,
		path:        "agi-2027",
	},
	{
		slug:        "climate",
		question:    "Will global temperature rise exceed 1.5°C by 2030?",
		description: "Climate change prediction market",
		category:    "climate",
		probability: 0.78,
		volume:      950000,
		liquidity:   250000,
		path:        "climate-1-5c",
	},
}

// FallbackCollection builds a degraded sample collection for the given
// filter. It is never empty for an empty category, so a total upstream outage
// stays distinguishable from "no markets exist".
func FallbackCollection(filter domain.Filter) domain.Collection {
	filter = filter.Normalize()
	now := time.Now().UTC()

	var states []domain.MarketState
	for _, platform := range []domain.Platform{
		domain.PlatformPolymarket,
		domain.PlatformKalshi,
		domain.PlatformManifold,
	} {
		for _, seed := range fallbackSeeds {
			p := seed.probability
			liq := seed.liquidity
			m := domain.Market{
				Platform:    platform,
				ID:          string(platform) + "_" + seed.slug,
				Question:    seed.question,
				Description: seed.description,
				Category:    seed.category,
				Probability: &p,
				Volume:      seed.volume,
				Liquidity:   &liq,
				Status:      domain.MarketStatusOpen,
				URL:         "https://" + string(platform) + ".com/markets/" + seed.path,
				UpdatedAt:   now,
			}
			if !filter.Matches(m) {
				continue
			}
			states = append(states, domain.MarketState{Market: m})
		}
	}

	if len(states) > filter.Limit {
		states = states[:filter.Limit]
	}
	return domain.Collection{
		Markets:   states,
		FetchedAt: now,
		Degraded:  true,
	}
}
