package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// PositionReader exposes the ledger's snapshots.
type PositionReader interface {
	Snapshots() []domain.PositionState
	Snapshot(symbol string) (domain.PositionState, bool)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logHandler(logger, "positions")}
}

type listPositionsResponse struct {
	Positions []domain.PositionState `json:"positions"`
}

// ListPositions returns every held position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Snapshots()
	if positions == nil {
		positions = []domain.PositionState{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position including its grid ladder.
// GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	pos, ok := h.positions.Snapshot(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
