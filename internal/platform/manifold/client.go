package manifold

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonnyspicer/mango"

	"github.com/marketpulse/engine/internal/domain"
)

// Client adapts the Manifold Markets API to the canonical market shape.
// The underlying mango client handles transport and rate limiting.
type Client struct {
	mc *mango.Client
}

// NewClient creates a Manifold client with the default mango instance.
func NewClient() *Client {
	return &Client{mc: mango.DefaultClientInstance()}
}

// Platform identifies this client as the Manifold source.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformManifold
}

// Markets returns open markets sorted by liquidity. A non-empty category is
// passed through as the search term; Manifold has no first-class category
// taxonomy.
func (c *Client) Markets(ctx context.Context, category string, limit int) ([]domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	markets, err := c.mc.SearchMarkets(mango.SearchMarketsRequest{
		Term:   category,
		Filter: "open",
		Sort:   "liquidity",
		Limit:  int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("manifold: search markets: %w", err)
	}
	if markets == nil {
		return nil, nil
	}

	out := make([]domain.Market, 0, len(*markets))
	for i := range *markets {
		out = append(out, toDomainMarket(&(*markets)[i], category))
	}
	return out, nil
}

// Market returns a single market by its Manifold ID.
func (c *Client) Market(ctx context.Context, id string) (domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return domain.Market{}, err
	}

	m, err := c.mc.GetMarketByID(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("manifold: get market %s: %w", id, err)
	}
	if m == nil {
		return domain.Market{}, fmt.Errorf("manifold: market %s: %w", id, domain.ErrNotFound)
	}
	return toDomainMarket(m, ""), nil
}

// toDomainMarket normalizes one Manifold market. Manifold has no category
// taxonomy of its own, so records from a category-scoped search carry the
// category they were searched under; downstream filtering treats them like
// any other platform's records.
func toDomainMarket(m *mango.FullMarket, category string) domain.Market {
	out := domain.Market{
		Platform:  domain.PlatformManifold,
		ID:        m.Id,
		Question:  m.Question,
		Category:  strings.ToLower(strings.TrimSpace(category)),
		Volume:    m.Volume,
		Status:    status(m),
		URL:       m.Url,
		UpdatedAt: time.Now().UTC(),
	}

	// Probability only means "chance of Yes" for binary contracts.
	if m.OutcomeType == mango.Binary {
		p := m.Probability
		out.Probability = &p
	}
	if m.TotalLiquidity > 0 {
		liq := m.TotalLiquidity
		out.Liquidity = &liq
	}
	if m.CloseTime > 0 {
		t := time.UnixMilli(m.CloseTime).UTC()
		out.EndDate = &t
	}
	return out
}

func status(m *mango.FullMarket) domain.MarketStatus {
	switch {
	case m.IsResolved:
		return domain.MarketStatusResolved
	case m.CloseTime > 0 && time.UnixMilli(m.CloseTime).Before(time.Now()):
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusOpen
	}
}
