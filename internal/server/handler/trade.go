package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// TradeReader is the read side of trade history.
type TradeReader interface {
	ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error)
	Summary(ctx context.Context, day time.Time) (domain.TradeSummary, error)
}

// TradeHandler serves trade history endpoints.
type TradeHandler struct {
	trades TradeReader
	clock  func() time.Time
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, clock: time.Now, logger: logHandler(logger, "trades")}
}

// ListTrades returns the most recent trades for a symbol.
// GET /api/trades?symbol=600000.SH&since=2026-10-01&until=2026-10-19&limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	opts, err := parseListOpts(r, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "since and until must be YYYY-MM-DD")
		return
	}
	recs, err := h.trades.ListBySymbol(r.Context(), symbol, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": recs})
}

// DaySummary totals one trading day.
// GET /api/trades/summary?day=2026-10-19
func (h *TradeHandler) DaySummary(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r, "day", h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	sum, err := h.trades.Summary(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: trade summary failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to summarise trades")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
