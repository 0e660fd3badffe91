package sellrule

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

const eps = 1e-9

// Gap is the direction of the opening price against the prior close,
// fixed once per trading day.
type Gap int

const (
	GapUnknown Gap = iota
	GapUp
	GapDown
	GapFlat
)

func (g Gap) String() string {
	switch g {
	case GapUp:
		return "up"
	case GapDown:
		return "down"
	case GapFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// DayState is the per-symbol, per-trading-day view the rules evaluate.
type DayState struct {
	Date        string
	Open        float64
	High        float64
	Low         float64
	PrevClose   float64
	Gap         Gap
	MaxDrawdown float64
	SoldToday   bool
}

// PendingOrder is a submitted sell order watched for the rule 7 timeout.
// An empty OrderID marks a sell whose order was already cancelled and
// still needs a replacement.
type PendingOrder struct {
	OrderID     string
	Symbol      string
	Quantity    int64
	Price       float64
	Reason      string
	Source      string
	FullExit    bool
	SubmittedAt time.Time
}

// Engine evaluates the intraday sell rules. Safe for concurrent use.
type Engine struct {
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	days      map[string]*DayState
	lastFired map[string]time.Time
	pending   map[string]PendingOrder // keyed by order id, or requeueKey
}

func requeueKey(symbol string) string { return "requeue:" + symbol }

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an Engine. cfg is assumed to be validated.
func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger.With(slog.String("component", "sellrule")),
		days:      make(map[string]*DayState),
		lastFired: make(map[string]time.Time),
		pending:   make(map[string]PendingOrder),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate folds q into the symbol's day state and checks rules 1-6 and 8
// in order. At most one signal is returned; it sells the whole available
// quantity. Nothing fires outside trading hours, during cooldown, or after
// the symbol already sold today.
func (e *Engine) Evaluate(snap domain.PositionState, q domain.Quote) (domain.Signal, bool) {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.observeLocked(snap.Symbol, q, now)

	if e.coolingLocked(snap.Symbol, now) {
		return domain.Signal{}, false
	}
	if !InTradingHours(now) || st.SoldToday {
		return domain.Signal{}, false
	}
	if snap.AvailableQuantity <= 0 || q.LastPrice <= 0 {
		return domain.Signal{}, false
	}

	rule, ok := e.matchLocked(snap.Symbol, st, q, now)
	if !ok {
		return domain.Signal{}, false
	}

	e.lastFired[snap.Symbol] = now
	e.logger.Info("sellrule: rule triggered",
		slog.String("symbol", snap.Symbol),
		slog.Int("rule", rule),
		slog.Float64("price", q.LastPrice),
		slog.Float64("high", st.High),
		slog.String("gap", st.Gap.String()),
	)
	return e.sellSignal(snap, q, ReasonFor(rule), now), true
}

// Observe folds q into the day state without evaluating any rule.
func (e *Engine) Observe(symbol string, q domain.Quote) {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeLocked(symbol, q, now)
}

// ManualTrigger emits a full-exit sell for snap regardless of the rule
// conditions. Cooldown still applies.
func (e *Engine) ManualTrigger(snap domain.PositionState, q domain.Quote) (domain.Signal, bool) {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coolingLocked(snap.Symbol, now) {
		return domain.Signal{}, false
	}
	if snap.AvailableQuantity <= 0 {
		return domain.Signal{}, false
	}
	e.lastFired[snap.Symbol] = now
	sig := e.sellSignal(snap, q, domain.ReasonManual, now)
	sig.Source = "operator"
	sig.Priority = domain.PriorityCritical
	return sig, true
}

// TrackOrder starts the rule 7 timer for a submitted sell.
func (e *Engine) TrackOrder(o PendingOrder) {
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = e.clock()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[o.OrderID] = o
}

// Requeue watches a sell whose order was cancelled but not replaced. The
// next CheckTimeouts past the timeout resubmits it with nothing to cancel.
// A later requeue for the same symbol replaces the earlier one.
func (e *Engine) Requeue(o PendingOrder) {
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = e.clock()
	}
	o.OrderID = ""
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[requeueKey(o.Symbol)] = o
}

// MarkSold stops rules 1-6 and 8 for symbol until the next trading day.
// Called once a rule-driven sell has been submitted.
func (e *Engine) MarkSold(symbol string) {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dayLocked(symbol, now).SoldToday = true
}

// UntrackOrder stops watching an order, typically once it filled or was
// cancelled.
func (e *Engine) UntrackOrder(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, orderID)
}

// Pending returns the watched orders sorted by submission time.
func (e *Engine) Pending() []PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingOrder, 0, len(e.pending))
	for _, o := range e.pending {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// CheckTimeouts emits a cancel-and-resubmit signal for every watched order
// older than the rule 7 timeout. The new price is bid level 3 of the
// symbol's quote, falling back to the last price. Orders whose symbol is
// still cooling down stay pending and are retried on a later call, so with
// the default settings the cooldown, not Rule7Timeout, sets the pace of
// repeated resubmits.
func (e *Engine) CheckTimeouts(quotes map[string]domain.Quote) []domain.Signal {
	if !e.cfg.Enabled[RuleOrderTimeout] {
		return nil
	}
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.Signal
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := e.pending[id]
		if now.Sub(o.SubmittedAt) < e.cfg.Rule7Timeout {
			continue
		}
		if e.coolingLocked(o.Symbol, now) {
			continue
		}
		q, ok := quotes[o.Symbol]
		if !ok {
			continue
		}
		price := q.BidPrice(3)
		if price <= 0 {
			price = q.LastPrice
		}
		if price <= 0 {
			continue
		}
		delete(e.pending, id)
		e.lastFired[o.Symbol] = now
		e.logger.Warn("sellrule: order timed out, resubmitting",
			slog.String("symbol", o.Symbol),
			slog.String("order_id", o.OrderID),
			slog.Duration("age", now.Sub(o.SubmittedAt)),
			slog.Float64("price", price),
		)
		source := o.Source
		if source == "" {
			source = "sellrule"
		}
		out = append(out, domain.Signal{
			ID:            fmt.Sprintf("sellrule-%s-%s-resubmit-%d", o.Symbol, id, now.UnixNano()),
			Symbol:        o.Symbol,
			Direction:     domain.DirectionSell,
			Quantity:      o.Quantity,
			Price:         price,
			Reason:        domain.ReasonOrderTimeout,
			Priority:      domain.PriorityHigh,
			Source:        source,
			CancelOrderID: o.OrderID,
			FullExit:      o.FullExit,
			CreatedAt:     now,
		})
	}
	return out
}

// ResetSymbol clears the day state, cooldown and watched orders of one
// symbol.
func (e *Engine) ResetSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.days, symbol)
	delete(e.lastFired, symbol)
	for id, o := range e.pending {
		if o.Symbol == symbol {
			delete(e.pending, id)
		}
	}
}

// State returns a copy of the symbol's day state.
func (e *Engine) State(symbol string) (DayState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.days[symbol]
	if !ok {
		return DayState{}, false
	}
	return *st, true
}

// ReasonFor returns the signal reason tag for a rule number.
func ReasonFor(rule int) string {
	return fmt.Sprintf("sell_rule_%d", rule)
}

func (e *Engine) sellSignal(snap domain.PositionState, q domain.Quote, reason string, now time.Time) domain.Signal {
	return domain.Signal{
		ID:        fmt.Sprintf("sellrule-%s-%s-%d", snap.Symbol, reason, now.UnixNano()),
		Symbol:    snap.Symbol,
		Direction: domain.DirectionSell,
		Quantity:  snap.AvailableQuantity,
		Price:     q.SellPrice(e.cfg.SellPriceLevel),
		Reason:    reason,
		Priority:  domain.PriorityHigh,
		Source:    "sellrule",
		FullExit:  true,
		CreatedAt: now,
	}
}

func (e *Engine) coolingLocked(symbol string, now time.Time) bool {
	last, ok := e.lastFired[symbol]
	return ok && now.Sub(last) < e.cfg.Cooldown
}

// dayLocked returns the state for the current trading date, replacing a
// stale one from a previous day.
func (e *Engine) dayLocked(symbol string, now time.Time) *DayState {
	date := TradingDate(now)
	st, ok := e.days[symbol]
	if !ok || st.Date != date {
		st = &DayState{Date: date}
		e.days[symbol] = st
	}
	return st
}

func (e *Engine) observeLocked(symbol string, q domain.Quote, now time.Time) *DayState {
	st := e.dayLocked(symbol, now)

	if st.Open <= 0 {
		if q.Open > 0 {
			st.Open = q.Open
		} else if q.LastPrice > 0 {
			st.Open = q.LastPrice
		}
	}
	if q.PrevClose > 0 {
		st.PrevClose = q.PrevClose
	}
	for _, p := range []float64{q.High, q.LastPrice} {
		if p > st.High {
			st.High = p
		}
	}
	for _, p := range []float64{q.Low, q.LastPrice} {
		if p > 0 && (st.Low <= 0 || p < st.Low) {
			st.Low = p
		}
	}
	if st.Gap == GapUnknown && st.Open > 0 && st.PrevClose > 0 {
		switch {
		case st.Open > st.PrevClose+eps:
			st.Gap = GapUp
		case st.Open < st.PrevClose-eps:
			st.Gap = GapDown
		default:
			st.Gap = GapFlat
		}
	}
	if st.High > 0 && q.LastPrice > 0 {
		if dd := (st.High - q.LastPrice) / st.High; dd > st.MaxDrawdown {
			st.MaxDrawdown = dd
		}
	}
	return st
}
