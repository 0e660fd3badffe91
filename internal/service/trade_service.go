package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// TradeService wraps the trade store: every appended fill is also
// published on the orders channel, and history can be summarised and
// archived per trading day. It satisfies domain.TradeStore so the
// executor can record through it.
type TradeService struct {
	trades   domain.TradeStore
	bus      domain.SignalBus // may be nil
	archiver domain.Archiver  // may be nil
	logger   *slog.Logger
}

var _ domain.TradeStore = (*TradeService)(nil)

// NewTradeService creates a TradeService.
func NewTradeService(
	trades domain.TradeStore,
	bus domain.SignalBus,
	archiver domain.Archiver,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades:   trades,
		bus:      bus,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// AppendTradeRecord stores rec and publishes it. A publish failure is
// logged only.
func (s *TradeService) AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	if err := s.trades.AppendTradeRecord(ctx, rec); err != nil {
		return fmt.Errorf("trade_service: append: %w", err)
	}
	if s.bus == nil {
		return nil
	}
	evt, _ := json.Marshal(map[string]any{
		"event":      "trade",
		"symbol":     rec.Symbol,
		"direction":  rec.Direction,
		"price":      rec.Price,
		"quantity":   rec.Quantity,
		"amount":     rec.Amount,
		"commission": rec.Commission,
		"order_id":   rec.OrderID,
		"strategy":   rec.Strategy,
		"traded_at":  rec.TradedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, domain.ChannelOrders, evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish failed",
			slog.String("order_id", rec.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ListBySymbol returns a symbol's trades newest first.
func (s *TradeService) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	out, err := s.trades.ListBySymbol(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list %s: %w", symbol, err)
	}
	return out, nil
}

// ListBetween returns trades in [from, to).
func (s *TradeService) ListBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	out, err := s.trades.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list between: %w", err)
	}
	return out, nil
}

// Summary totals the trades of the Shanghai trading day containing day.
func (s *TradeService) Summary(ctx context.Context, day time.Time) (domain.TradeSummary, error) {
	from := domain.TradingDay(day)
	recs, err := s.ListBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return domain.TradeSummary{}, err
	}
	sum := domain.TradeSummary{Day: from.Format("2006-01-02"), Trades: len(recs)}
	for _, r := range recs {
		switch r.Direction {
		case domain.DirectionBuy:
			sum.BuyAmount += r.Amount
		case domain.DirectionSell:
			sum.SellAmount += r.Amount
		}
		sum.Commission += r.Commission
	}
	return sum, nil
}

// ArchiveDay copies one trading day to object storage. It is a no-op
// without an archiver.
func (s *TradeService) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	if s.archiver == nil {
		return 0, nil
	}
	n, err := s.archiver.ArchiveTrades(ctx, day)
	if err != nil {
		return n, fmt.Errorf("trade_service: archive: %w", err)
	}
	s.logger.InfoContext(ctx, "trade_service: archived trades",
		slog.String("day", domain.TradingDay(day).Format("2006-01-02")),
		slog.Int64("count", n),
	)
	return n, nil
}
