package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/marketpulse/engine/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseFilter extracts the category and limit query parameters. Limits are
// defaulted by Filter.Normalize and capped at 200, the smallest upstream
// page-size ceiling.
func parseFilter(r *http.Request) domain.Filter {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	return domain.Filter{
		Category: q.Get("category"),
		Limit:    limit,
	}.Normalize()
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// marketKeyFromPath resolves the {platform}/{id} pair shared by the
// single-market endpoints. The bool reports whether both parts were valid.
func marketKeyFromPath(r *http.Request) (domain.MarketKey, bool) {
	platform, ok := domain.ParsePlatform(pathParam(r, "platform"))
	if !ok {
		return domain.MarketKey{}, false
	}
	id := pathParam(r, "id")
	if id == "" {
		return domain.MarketKey{}, false
	}
	return domain.MarketKey{Platform: platform, ID: id}, true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
