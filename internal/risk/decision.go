package risk

import "github.com/alanyoungcy/qmtbot/internal/domain"

// Action is the outcome of the ordered risk checks for one symbol.
type Action int

const (
	ActionNone Action = iota
	// ActionHardStop liquidates the whole position and overrides everything.
	ActionHardStop
	// ActionFirstTakeProfit sells the configured fraction once.
	ActionFirstTakeProfit
	// ActionDynamicStop liquidates the remainder after the trailing stop breaks.
	ActionDynamicStop
)

func (a Action) String() string {
	switch a {
	case ActionHardStop:
		return domain.ReasonHardStopLoss
	case ActionFirstTakeProfit:
		return domain.ReasonFirstTakeProfit
	case ActionDynamicStop:
		return domain.ReasonDynamicStop
	default:
		return "none"
	}
}

// Liquidates reports whether the action exits the full position.
func (a Action) Liquidates() bool {
	return a == ActionHardStop || a == ActionDynamicStop
}

// Decide runs the checks in precedence order: hard stop, first
// take-profit, dynamic stop. The first hit wins. The dynamic stop is never
// consulted before the first take-profit has armed it.
func Decide(snap domain.PositionState, cfg Config) Action {
	if snap.Quantity <= 0 {
		return ActionNone
	}
	if CheckHardStopLoss(snap, cfg) {
		return ActionHardStop
	}
	if CheckFirstTakeProfit(snap, cfg) {
		return ActionFirstTakeProfit
	}
	if snap.ProfitTriggered && CheckDynamicStopHit(snap) {
		return ActionDynamicStop
	}
	return ActionNone
}
