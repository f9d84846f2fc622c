package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes. Readiness concerns (feed state,
// store freshness) live on the status endpoint instead.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// GetHealth responds 200 whenever the process is serving requests.
// GET /api/health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "marketpulse",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
