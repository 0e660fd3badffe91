package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/monitor"
)

// CycleSource exposes the monitor's progress.
type CycleSource interface {
	LastReport() (monitor.CycleReport, bool)
	Running() bool
}

// StatusHandler serves the bot status for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	cycles    CycleSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, cycles CycleSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, cycles: cycles}
}

// GetStatus reports the broker mode, uptime and the last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"cycle_running":  h.cycles.Running(),
	}
	if rep, ok := h.cycles.LastReport(); ok {
		body["last_cycle"] = rep
	}
	writeJSON(w, http.StatusOK, body)
}
