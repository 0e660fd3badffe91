package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// CommandQueue accepts operator commands for the next monitor cycle.
type CommandQueue interface {
	Enqueue(cmd domain.Command) bool
}

// OrderLister reports orders the executor is still tracking.
type OrderLister interface {
	OpenOrders() []string
}

var validActions = map[string]bool{
	"sell":        true,
	"reset_state": true,
	"reset_rules": true,
}

// CommandHandler serves operator commands and the open-order view.
type CommandHandler struct {
	queue  CommandQueue
	orders OrderLister
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(queue CommandQueue, orders OrderLister, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{queue: queue, orders: orders, logger: logHandler(logger, "commands")}
}

// SubmitCommand queues a command. The response is 202: the command runs
// inside the next cycle, not during the request.
// POST /api/commands {"action":"sell","symbol":"600000.SH"}
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	cmd.Symbol = strings.ToUpper(strings.TrimSpace(cmd.Symbol))
	if !validActions[cmd.Action] {
		writeError(w, http.StatusBadRequest, "action must be sell, reset_state or reset_rules")
		return
	}
	if cmd.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	if !h.queue.Enqueue(cmd) {
		writeError(w, http.StatusServiceUnavailable, "command queue full")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: command queued",
		slog.String("action", cmd.Action),
		slog.String("symbol", cmd.Symbol),
	)
	writeJSON(w, http.StatusAccepted, cmd)
}

// ListOrders returns the ids of orders awaiting a terminal report.
// GET /api/orders
func (h *CommandHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ids := h.orders.OpenOrders()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": ids})
}
