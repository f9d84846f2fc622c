package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/fetch"
)

// MarketStore defines what the markets handler requires from the query
// store. It is declared locally so the handler package does not depend on
// the concrete store implementation.
type MarketStore interface {
	EnsureFresh(ctx context.Context, filter domain.Filter) (domain.Collection, error)
	ToggleFavorite(key domain.MarketKey) bool
	IsFavorite(key domain.MarketKey) bool
	InvalidateAll()
}

// MarketLookup fetches a single market straight from one platform.
type MarketLookup interface {
	Market(ctx context.Context, id string) (domain.Market, error)
}

// MarketHandler serves the market collection and single-market endpoints.
type MarketHandler struct {
	store   MarketStore
	lookups map[domain.Platform]MarketLookup
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. lookups maps each platform to
// its client for the single-market endpoint; platforms absent from the map
// resolve to 404.
func NewMarketHandler(store MarketStore, lookups map[domain.Platform]MarketLookup, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		store:   store,
		lookups: lookups,
		logger:  logger,
	}
}

// ListMarkets returns the reconciled collection for the requested filter.
// Total upstream failure still answers 200: the built-in fallback collection
// is served with the degraded flag set, so clients distinguish "no markets
// in this category" from "nothing could be fetched".
// GET /api/markets?category=&limit=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	coll, err := h.store.EnsureFresh(r.Context(), filter)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: market fetch degraded",
			slog.String("category", filter.Category),
			slog.String("error", err.Error()),
		)
		if len(coll.Markets) == 0 {
			coll = fetch.FallbackCollection(filter)
		}
		coll.Degraded = true
	}

	writeJSON(w, http.StatusOK, coll)
}

// GetMarket returns a single market looked up directly on its platform.
// GET /api/markets/{platform}/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	key, ok := marketKeyFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown platform or missing id")
		return
	}

	lookup, ok := h.lookups[key.Platform]
	if !ok {
		writeError(w, http.StatusNotFound, "platform not available")
		return
	}

	market, err := lookup.Market(r.Context(), key.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		if errors.Is(err, domain.ErrRateLimited) {
			writeError(w, http.StatusServiceUnavailable, "upstream rate limited")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("platform", string(key.Platform)),
			slog.String("market_id", key.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}

	writeJSON(w, http.StatusOK, domain.MarketState{
		Market:   market,
		Favorite: h.store.IsFavorite(key),
	})
}

// ToggleFavorite flips the local-only favorite flag for one market.
// POST /api/markets/{platform}/{id}/favorite
func (h *MarketHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	key, ok := marketKeyFromPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown platform or missing id")
		return
	}

	favorite := h.store.ToggleFavorite(key)
	writeJSON(w, http.StatusOK, map[string]any{
		"platform": key.Platform,
		"id":       key.ID,
		"favorite": favorite,
	})
}

// Refresh discards every cached collection so the next read refetches,
// bypassing the freshness window.
// POST /api/refresh
func (h *MarketHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.store.InvalidateAll()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}
