package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/marketpulse/engine/internal/domain"
)

// NewsService defines what the news handler requires from the news layer.
type NewsService interface {
	Fetch(ctx context.Context, category string, limit int) ([]domain.NewsArticle, error)
}

// NewsHandler serves analyzed news articles.
type NewsHandler struct {
	news   NewsService
	logger *slog.Logger
}

// NewNewsHandler creates a NewsHandler with the given service and logger.
func NewNewsHandler(news NewsService, logger *slog.Logger) *NewsHandler {
	return &NewsHandler{news: news, logger: logger}
}

// newsResponse wraps the list endpoint output. Articles is always present,
// even alongside an error, so dashboard clients can bind it directly.
type newsResponse struct {
	Articles []domain.NewsArticle `json:"articles"`
	Count    int                  `json:"count"`
	Error    string               `json:"error,omitempty"`
}

// ListNews returns analyzed articles, breaking news first. Unlike the
// markets endpoint there is no fallback corpus substitution on failure: the
// client gets an explicit error and an empty list.
// GET /api/news?category=&limit=
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")

	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	articles, err := h.news.Fetch(r.Context(), category, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: news fetch failed",
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, newsResponse{
			Articles: []domain.NewsArticle{},
			Error:    "failed to fetch news",
		})
		return
	}

	writeJSON(w, http.StatusOK, newsResponse{
		Articles: articles,
		Count:    len(articles),
	})
}
