// Package grid plans symmetric price ladders around a position's anchor
// price and matches live prices against the pending rungs.
package grid

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// Anchor selects the base price of the ladder.
type Anchor string

const (
	AnchorCost Anchor = "cost"
	// AnchorPeak uses the highest price once the first take-profit has
	// fired, and cost before that.
	AnchorPeak Anchor = "peak"
)

// Config holds the ladder geometry.
type Config struct {
	Enabled   bool
	Step      float64
	Ratio     float64
	MaxLevels int
	Anchor    Anchor
}

// DefaultConfig returns a disabled three-rung ladder with 5% steps.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Step:      0.05,
		Ratio:     0.2,
		MaxLevels: 3,
		Anchor:    AnchorCost,
	}
}

// Validate checks the ladder geometry.
func (c Config) Validate() error {
	var errs []error
	if c.Step <= 0 || c.Step >= 1 {
		errs = append(errs, fmt.Errorf("step must be in (0,1), got %v", c.Step))
	}
	if c.Ratio <= 0 || c.Ratio > 1 {
		errs = append(errs, fmt.Errorf("ratio must be in (0,1], got %v", c.Ratio))
	}
	if c.MaxLevels < 1 {
		errs = append(errs, fmt.Errorf("max_levels must be >= 1, got %d", c.MaxLevels))
	}
	if float64(c.MaxLevels)*c.Step >= 1 {
		errs = append(errs, fmt.Errorf("max_levels x step must stay below 1 so buy targets remain positive"))
	}
	if c.Anchor != AnchorCost && c.Anchor != AnchorPeak {
		errs = append(errs, fmt.Errorf("anchor must be %q or %q, got %q", AnchorCost, AnchorPeak, c.Anchor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("grid: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Signal is a matched rung that is ready to move from PENDING to ACTIVE.
type Signal struct {
	Symbol    string
	Level     int
	Direction domain.Direction
	Price     float64
	Quantity  int64
}

// Engine is stateless apart from its configuration.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a grid Engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "grid")),
	}
}

// Enabled reports whether grid trading is switched on.
func (e *Engine) Enabled() bool {
	return e.cfg.Enabled
}

// AnchorPrice returns the ladder's base price for a snapshot.
func (e *Engine) AnchorPrice(snap domain.PositionState) float64 {
	if e.cfg.Anchor == AnchorPeak && snap.ProfitTriggered && snap.HighestPrice > 0 {
		return snap.HighestPrice
	}
	return snap.CostPrice
}

// levelQuantity sizes one rung in whole lots.
func (e *Engine) levelQuantity(qty int64) int64 {
	if qty < domain.LotSize {
		return 0
	}
	q := domain.LotFloor(int64(float64(qty) * e.cfg.Ratio))
	if q == 0 {
		q = domain.LotSize
	}
	return q
}

// PlanLevels builds the ladder for a snapshot. The result depends only on
// the snapshot and configuration and is ordered by level.
func (e *Engine) PlanLevels(snap domain.PositionState) []domain.GridTrade {
	anchor := e.AnchorPrice(snap)
	qty := e.levelQuantity(snap.Quantity)
	if anchor <= 0 || qty == 0 {
		return nil
	}

	a := decimal.NewFromFloat(anchor)
	step := decimal.NewFromFloat(e.cfg.Step)
	one := decimal.NewFromInt(1)

	out := make([]domain.GridTrade, 0, 2*e.cfg.MaxLevels)
	for k := 1; k <= e.cfg.MaxLevels; k++ {
		off := step.Mul(decimal.NewFromInt(int64(k)))
		out = append(out,
			domain.GridTrade{
				Level:       -k,
				Direction:   domain.DirectionBuy,
				TargetPrice: domain.RoundToTick(a.Mul(one.Sub(off)).InexactFloat64()),
				Quantity:    qty,
				Status:      domain.GridPending,
			},
			domain.GridTrade{
				Level:       k,
				Direction:   domain.DirectionSell,
				TargetPrice: domain.RoundToTick(a.Mul(one.Add(off)).InexactFloat64()),
				Quantity:    qty,
				Status:      domain.GridPending,
			},
		)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// NeedsPlan reports whether the position has no ladder or has completed
// every rung of its current one.
func NeedsPlan(snap domain.PositionState) bool {
	if len(snap.GridTrades) == 0 {
		return true
	}
	for _, gt := range snap.GridTrades {
		if gt.Status != domain.GridCompleted {
			return false
		}
	}
	return true
}

// MatchSignals scans the PENDING rungs of a snapshot against price. A SELL
// rung is only matched when the snapshot's available quantity, net of the
// rungs matched before it in this scan, covers it.
func (e *Engine) MatchSignals(snap domain.PositionState, price float64) []Signal {
	if price <= 0 {
		return nil
	}
	available := snap.AvailableQuantity
	var out []Signal
	for _, gt := range snap.GridTrades {
		if gt.Status != domain.GridPending {
			continue
		}
		switch gt.Direction {
		case domain.DirectionBuy:
			if price > gt.TargetPrice {
				continue
			}
		case domain.DirectionSell:
			if price < gt.TargetPrice {
				continue
			}
			if available < gt.Quantity {
				e.logger.Info("grid: sell level skipped, insufficient available quantity",
					slog.String("symbol", snap.Symbol),
					slog.Int("level", gt.Level),
					slog.Int64("quantity", gt.Quantity),
					slog.Int64("available", available),
				)
				continue
			}
			available -= gt.Quantity
		default:
			continue
		}
		out = append(out, Signal{
			Symbol:    snap.Symbol,
			Level:     gt.Level,
			Direction: gt.Direction,
			Price:     gt.TargetPrice,
			Quantity:  gt.Quantity,
		})
	}
	return out
}
