package sellrule

import (
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// matchLocked returns the first enabled rule that fires.
func (e *Engine) matchLocked(symbol string, st *DayState, q domain.Quote, now time.Time) (int, bool) {
	checks := []struct {
		rule int
		fn   func() bool
	}{
		{RuleGapUpPullback, func() bool { return e.rule1(st, q) }},
		{RuleGapDownPullback, func() bool { return e.rule2(st, q) }},
		{RuleGapDownGainPullback, func() bool { return e.rule3(st, q) }},
		{RuleGainPullback, func() bool { return e.rule4(st, q) }},
		{RuleClosingSell, func() bool { return e.rule5(symbol, st, q, now) }},
		{RuleLimitUpSealWeak, func() bool { return e.rule6(symbol, st, q) }},
		{RuleMaxDrawdown, func() bool { return e.rule8(st) }},
	}
	for _, c := range checks {
		if e.cfg.Enabled[c.rule] && c.fn() {
			return c.rule, true
		}
	}
	return 0, false
}

func riseFromOpen(st *DayState) float64 {
	if st.Open <= 0 {
		return 0
	}
	return (st.High - st.Open) / st.Open
}

func gainFromPrevClose(st *DayState) float64 {
	if st.PrevClose <= 0 {
		return 0
	}
	return (st.High - st.PrevClose) / st.PrevClose
}

func pullback(st *DayState, price float64) float64 {
	if st.High <= 0 {
		return 0
	}
	return (st.High - price) / st.High
}

func atLeast(v, threshold float64) bool { return v >= threshold-eps }

// Gap-up open, rallied from the open, then pulled back from the high.
func (e *Engine) rule1(st *DayState, q domain.Quote) bool {
	return st.Gap == GapUp &&
		atLeast(riseFromOpen(st), e.cfg.Rule1Rise) &&
		atLeast(pullback(st, q.LastPrice), e.cfg.Rule1Drawdown)
}

// Gap-down open, rallied from the open, then pulled back from the high.
func (e *Engine) rule2(st *DayState, q domain.Quote) bool {
	return st.Gap == GapDown &&
		atLeast(riseFromOpen(st), e.cfg.Rule2Rise) &&
		atLeast(pullback(st, q.LastPrice), e.cfg.Rule2Drawdown)
}

// Gap-down open, high well above the prior close, then pulled back.
func (e *Engine) rule3(st *DayState, q domain.Quote) bool {
	return st.Gap == GapDown &&
		atLeast(gainFromPrevClose(st), e.cfg.Rule3Gain) &&
		atLeast(pullback(st, q.LastPrice), e.cfg.Rule3Drawdown)
}

// High well above the prior close then pulled back, any gap.
func (e *Engine) rule4(st *DayState, q domain.Quote) bool {
	return atLeast(gainFromPrevClose(st), e.cfg.Rule4Gain) &&
		atLeast(pullback(st, q.LastPrice), e.cfg.Rule4Drawdown)
}

// Inside the closing window, sell anything not sealed at limit-up.
func (e *Engine) rule5(symbol string, st *DayState, q domain.Quote, now time.Time) bool {
	if !InClosingWindow(now, e.cfg.Rule5Window) {
		return false
	}
	limit := limitUp(symbol, st, q)
	if limit <= 0 {
		return true
	}
	return q.LastPrice < limit*e.cfg.Rule5LimitTolerance-eps
}

// Trading near limit-up with a thin bid-one queue.
func (e *Engine) rule6(symbol string, st *DayState, q domain.Quote) bool {
	limit := limitUp(symbol, st, q)
	if limit <= 0 || !atLeast(q.LastPrice, limit*e.cfg.Rule6NearLimit) {
		return false
	}
	var bid1Vol int64
	if len(q.Bids) > 0 {
		bid1Vol = q.Bids[0].Volume
	}
	return float64(bid1Vol)*q.LastPrice < e.cfg.Rule6SealThreshold
}

// Maximum pullback from the day's high seen so far exceeds the limit.
func (e *Engine) rule8(st *DayState) bool {
	return e.cfg.Rule8MaxDrawdown > 0 && atLeast(st.MaxDrawdown, e.cfg.Rule8MaxDrawdown)
}

func limitUp(symbol string, st *DayState, q domain.Quote) float64 {
	if q.LimitUp > 0 {
		return q.LimitUp
	}
	return domain.LimitUpPrice(symbol, st.PrevClose)
}
