package handler

import (
	"net/http"
	"time"

	"github.com/marketpulse/engine/internal/feed"
)

// ChannelStatus is the slice of the live-update channel the status endpoint
// reports. Nil means no channel is running (serve-only deployments).
type ChannelStatus interface {
	State() feed.State
}

// StatusHandler serves the backend status (mode, live channel) for the
// dashboard.
type StatusHandler struct {
	Mode      string
	Channel   ChannelStatus
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler. channel may be nil.
func NewStatusHandler(mode string, channel ChannelStatus, startedAt time.Time) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{Mode: mode, Channel: channel, StartedAt: startedAt}
}

// GetStatus responds with the current backend mode, live channel state, and
// uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	feedState := "disabled"
	if h.Channel != nil {
		feedState = h.Channel.State().String()
	}

	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"feed_state":     feedState,
		"uptime_seconds": uptime,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
