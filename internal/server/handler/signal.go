package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// SignalJournal reads the stream of dispatched signals.
type SignalJournal interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

type journalEntry struct {
	ID     string          `json:"id"`
	Signal json.RawMessage `json:"signal"`
}

// SignalHandler pages through the signal journal.
type SignalHandler struct {
	journal SignalJournal
	logger  *slog.Logger
}

func NewSignalHandler(journal SignalJournal, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{journal: journal, logger: logHandler(logger, "signals")}
}

// ListSignals returns journal entries after the given stream id. Pass the
// returned "next" as "after" to continue.
// GET /api/signals?after=0&limit=100
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 1000)
	}

	msgs, err := h.journal.StreamRead(r.Context(), domain.StreamSignals, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read signal journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read signals")
		return
	}

	entries := make([]journalEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, journalEntry{ID: m.ID, Signal: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": entries, "next": next})
}
