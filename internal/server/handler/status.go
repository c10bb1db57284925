package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	open      func() int
	contracts func() int
}

// NewStatusHandler creates a StatusHandler. open and contracts report the
// number of open slots and known contract specs.
func NewStatusHandler(mode string, startedAt time.Time, open, contracts func() int) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, open: open, contracts: contracts}
}

// GetStatus responds with the run mode and counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"open_positions": h.open(),
		"contracts":      h.contracts(),
	})
}
