// Package risk holds the pure stop-loss and take-profit functions evaluated
// against position snapshots. Nothing here mutates state; callers act on the
// returned decisions.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// eps absorbs float noise when comparing ratios against configured
// thresholds, so a loss of exactly 9.5% trips a 9.5% hard stop.
const eps = 1e-9

// Band is one step of the trailing-stop table. A band covers peak gains in
// [MinGain, next band's MinGain); the last band is unbounded above.
type Band struct {
	MinGain float64
	Factor  float64
}

// DefaultBands is the trailing-stop table used when none is configured.
func DefaultBands() []Band {
	return []Band{
		{MinGain: 0.00, Factor: 0.93},
		{MinGain: 0.10, Factor: 0.90},
		{MinGain: 0.15, Factor: 0.87},
		{MinGain: 0.30, Factor: 0.85},
	}
}

// Config carries the risk thresholds. All ratios are positive fractions.
type Config struct {
	HardStopRatio        float64
	FixedStopRatio       float64
	FirstProfitThreshold float64
	FirstProfitFraction  float64
	Bands                []Band
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		HardStopRatio:        0.095,
		FixedStopRatio:       0.07,
		FirstProfitThreshold: 0.05,
		FirstProfitFraction:  0.5,
		Bands:                DefaultBands(),
	}
}

// Validate rejects tables and thresholds the evaluator cannot act on.
func (c Config) Validate() error {
	var errs []error
	if c.HardStopRatio <= 0 || c.HardStopRatio >= 1 {
		errs = append(errs, fmt.Errorf("hard_stop_ratio must be in (0,1), got %v", c.HardStopRatio))
	}
	if c.FixedStopRatio <= 0 || c.FixedStopRatio >= 1 {
		errs = append(errs, fmt.Errorf("fixed_stop_ratio must be in (0,1), got %v", c.FixedStopRatio))
	}
	if c.FirstProfitThreshold <= 0 {
		errs = append(errs, fmt.Errorf("first_profit_threshold must be > 0, got %v", c.FirstProfitThreshold))
	}
	if c.FirstProfitFraction <= 0 || c.FirstProfitFraction > 1 {
		errs = append(errs, fmt.Errorf("first_profit_fraction must be in (0,1], got %v", c.FirstProfitFraction))
	}
	if len(c.Bands) == 0 {
		errs = append(errs, errors.New("bands must not be empty"))
	}
	for i, b := range c.Bands {
		if b.Factor <= 0 || b.Factor >= 1 {
			errs = append(errs, fmt.Errorf("band %d: factor must be in (0,1), got %v", i, b.Factor))
		}
		if b.MinGain < 0 {
			errs = append(errs, fmt.Errorf("band %d: min_gain must be >= 0, got %v", i, b.MinGain))
		}
		if i == 0 && b.MinGain != 0 {
			errs = append(errs, fmt.Errorf("band 0: min_gain must be 0 so every gain is covered, got %v", b.MinGain))
		}
		if i > 0 && b.MinGain <= c.Bands[i-1].MinGain {
			errs = append(errs, fmt.Errorf("band %d: min_gain %v overlaps band %d (%v)", i, b.MinGain, i-1, c.Bands[i-1].MinGain))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// bandIndex finds the band covering gain g. Gains below the first band's
// lower bound fall into the first band.
func bandIndex(bands []Band, g float64) int {
	idx := 0
	for i, b := range bands {
		if g+eps >= b.MinGain {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// ComputeStopLossPrice returns the stop for a snapshot. Before the first
// take-profit the stop is fixed below cost. Afterwards it trails the peak
// by the factor of the band the peak gain falls in, floored at the stop the
// previous band reached at its upper edge so the stop never steps down as
// the peak rises.
func ComputeStopLossPrice(snap domain.PositionState, cfg Config) float64 {
	cost := snap.CostPrice
	if cost <= 0 {
		return 0
	}
	if !snap.ProfitTriggered {
		return cost * (1 - cfg.FixedStopRatio)
	}
	bands := cfg.Bands
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	highest := snap.HighestPrice
	if highest <= 0 {
		highest = cost
	}

	idx := bandIndex(bands, (highest-cost)/cost)
	floor := 0.0
	for i := 1; i <= idx; i++ {
		edge := cost * (1 + bands[i].MinGain) * bands[i-1].Factor
		floor = math.Max(floor, edge)
	}
	return math.Max(highest*bands[idx].Factor, floor)
}

// profitRatio is recomputed from prices so the check depends only on the
// snapshot's inputs.
func profitRatio(snap domain.PositionState) (float64, bool) {
	if snap.CostPrice <= 0 || snap.CurrentPrice <= 0 {
		return 0, false
	}
	return (snap.CurrentPrice - snap.CostPrice) / snap.CostPrice, true
}

// CheckHardStopLoss is true when the loss reaches the hard stop, whatever
// the trigger state.
func CheckHardStopLoss(snap domain.PositionState, cfg Config) bool {
	r, ok := profitRatio(snap)
	return ok && r <= -cfg.HardStopRatio+eps
}

// CheckFirstTakeProfit is true when profit reaches the first threshold and
// the one-time partial exit has not happened yet.
func CheckFirstTakeProfit(snap domain.PositionState, cfg Config) bool {
	if snap.ProfitTriggered {
		return false
	}
	r, ok := profitRatio(snap)
	return ok && r >= cfg.FirstProfitThreshold-eps
}

// CheckDynamicStopHit is true when the armed trailing stop is breached.
func CheckDynamicStopHit(snap domain.PositionState) bool {
	if !snap.ProfitTriggered || snap.StopLossPrice <= 0 || snap.CurrentPrice <= 0 {
		return false
	}
	return snap.CurrentPrice <= snap.StopLossPrice+eps
}

// FirstTakeProfitQuantity sizes the partial exit in whole lots. A position
// too small to split is sold in full.
func FirstTakeProfitQuantity(snap domain.PositionState, cfg Config) int64 {
	want := domain.LotFloor(int64(float64(snap.Quantity) * cfg.FirstProfitFraction))
	if want == 0 {
		want = snap.Quantity
	}
	return domain.SellableQuantity(want, snap.AvailableQuantity)
}
