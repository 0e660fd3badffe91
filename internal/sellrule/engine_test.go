package sellrule

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

const sym = "600000.SH"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// 2026-10-19 is a Monday.
func at(hour, minute, sec int) time.Time {
	return time.Date(2026, 10, 19, hour, minute, sec, 0, shanghai)
}

func newTestEngine(cfg Config, start time.Time) (*Engine, *fakeClock) {
	clk := &fakeClock{now: start}
	e := NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clk.Now))
	return e, clk
}

func held(avail int64) domain.PositionState {
	return domain.PositionState{
		Symbol:            sym,
		Quantity:          avail,
		AvailableQuantity: avail,
		CostPrice:         10,
		HighestPrice:      10,
	}
}

func quote(prevClose, open, high, last float64) domain.Quote {
	return domain.Quote{
		Symbol:    sym,
		LastPrice: last,
		Open:      open,
		High:      high,
		Low:       open,
		PrevClose: prevClose,
		Bids: []domain.DepthLevel{
			{Price: last - 0.01, Volume: 1_000_000},
			{Price: last - 0.02, Volume: 1_000_000},
			{Price: last - 0.03, Volume: 1_000_000},
		},
	}
}

func without(rules ...int) Config {
	cfg := DefaultConfig()
	for _, r := range rules {
		cfg.Enabled[r] = false
	}
	return cfg
}

func TestInTradingHours(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", at(9, 29, 59), false},
		{"morning open", at(9, 30, 0), true},
		{"morning close", at(11, 30, 0), true},
		{"lunch", at(12, 0, 0), false},
		{"afternoon open", at(13, 0, 0), true},
		{"close", at(15, 0, 0), true},
		{"after close", at(15, 0, 1), false},
		{"saturday", time.Date(2026, 10, 24, 10, 0, 0, 0, shanghai), false},
		{"utc input", time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InTradingHours(tt.t); got != tt.want {
				t.Errorf("InTradingHours(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestInClosingWindow(t *testing.T) {
	w := 5 * time.Minute
	if InClosingWindow(at(14, 54, 59), w) {
		t.Error("14:54:59 should be outside the window")
	}
	if !InClosingWindow(at(14, 55, 0), w) {
		t.Error("14:55:00 should be inside the window")
	}
	if InClosingWindow(at(15, 1, 0), w) {
		t.Error("15:01 should be outside the window")
	}
}

func TestRulesFire(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		now    time.Time
		quotes []domain.Quote
		want   int // 0 means no signal
	}{
		{
			name: "rule 1 gap up pullback",
			cfg:  DefaultConfig(),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10.2, 10.6, 10.6),
				quote(10, 10.2, 10.6, 10.35),
			},
			want: RuleGapUpPullback,
		},
		{
			name: "rule 1 not enough pullback",
			cfg:  DefaultConfig(),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10.2, 10.6, 10.5),
			},
			want: 0,
		},
		{
			name: "rule 2 gap down pullback",
			cfg:  DefaultConfig(),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 9.8, 10.3, 9.99),
			},
			want: RuleGapDownPullback,
		},
		{
			name: "rule 3 gap down gain over prior close",
			cfg:  without(RuleGapDownPullback),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 9.9, 10.7, 10.35),
			},
			want: RuleGapDownGainPullback,
		},
		{
			name: "rule 4 any gap",
			cfg:  DefaultConfig(),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10, 10.9, 10.4),
			},
			want: RuleGainPullback,
		},
		{
			name: "rule 5 closing window below limit",
			cfg:  DefaultConfig(),
			now:  at(14, 57, 0),
			quotes: []domain.Quote{
				quote(10, 10, 10.5, 10.5),
			},
			want: RuleClosingSell,
		},
		{
			name: "rule 5 holds at limit up",
			cfg:  DefaultConfig(),
			now:  at(14, 57, 0),
			quotes: []domain.Quote{
				quote(10, 10, 11, 11),
			},
			want: 0,
		},
		{
			name: "rule 5 quiet before window",
			cfg:  DefaultConfig(),
			now:  at(14, 50, 0),
			quotes: []domain.Quote{
				quote(10, 10, 10.5, 10.5),
			},
			want: 0,
		},
		{
			name: "rule 6 weak seal near limit",
			cfg:  DefaultConfig(),
			now:  at(10, 30, 0),
			quotes: []domain.Quote{
				{
					Symbol: sym, LastPrice: 10.95, Open: 10.5, High: 10.95, PrevClose: 10,
					Bids: []domain.DepthLevel{{Price: 10.94, Volume: 1000}},
				},
			},
			want: RuleLimitUpSealWeak,
		},
		{
			name: "rule 6 strong seal",
			cfg:  DefaultConfig(),
			now:  at(10, 30, 0),
			quotes: []domain.Quote{
				{
					Symbol: sym, LastPrice: 11, Open: 10.5, High: 11, PrevClose: 10,
					Bids: []domain.DepthLevel{{Price: 11, Volume: 2_000_000}},
				},
			},
			want: 0,
		},
		{
			name: "rule 8 max drawdown",
			cfg:  DefaultConfig(),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10, 10.5, 9.95),
			},
			want: RuleMaxDrawdown,
		},
		{
			name: "disabled rule is skipped",
			cfg:  without(RuleGapUpPullback),
			now:  at(10, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10.2, 10.6, 10.35),
			},
			want: 0,
		},
		{
			name: "outside trading hours",
			cfg:  DefaultConfig(),
			now:  at(12, 0, 0),
			quotes: []domain.Quote{
				quote(10, 10.2, 10.6, 10.35),
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(tt.cfg, tt.now)
			var (
				sig   domain.Signal
				fired bool
			)
			for _, q := range tt.quotes {
				sig, fired = e.Evaluate(held(1000), q)
			}
			if tt.want == 0 {
				if fired {
					t.Fatalf("unexpected signal %+v", sig)
				}
				return
			}
			if !fired {
				t.Fatalf("expected rule %d to fire", tt.want)
			}
			if sig.Reason != ReasonFor(tt.want) {
				t.Errorf("Reason = %q, want %q", sig.Reason, ReasonFor(tt.want))
			}
			if sig.Direction != domain.DirectionSell || sig.Quantity != 1000 || !sig.FullExit {
				t.Errorf("signal = %+v, want full sell of 1000", sig)
			}
		})
	}
}

func TestSellPriceUsesConfiguredBidLevel(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig(), at(10, 0, 0))
	sig, ok := e.Evaluate(held(1000), quote(10, 10.2, 10.6, 10.35))
	if !ok {
		t.Fatal("expected signal")
	}
	if want := 10.32; sig.Price < want-1e-9 || sig.Price > want+1e-9 {
		t.Errorf("Price = %v, want %v", sig.Price, want)
	}
}

func TestCooldownSuppressesAllRules(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	q := quote(10, 10.2, 10.6, 10.35)

	if _, ok := e.Evaluate(held(1000), q); !ok {
		t.Fatal("first evaluation should fire")
	}
	clk.Advance(10 * time.Second)
	// Rule 8 is now also true.
	if sig, ok := e.Evaluate(held(1000), quote(10, 10.2, 10.6, 10.0)); ok {
		t.Fatalf("signal during cooldown: %+v", sig)
	}
	clk.Advance(21 * time.Second)
	if _, ok := e.Evaluate(held(1000), q); !ok {
		t.Fatal("expected signal after cooldown")
	}
}

func TestSoldTodayBlocksRules(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	q := quote(10, 10.2, 10.6, 10.35)
	if _, ok := e.Evaluate(held(1000), q); !ok {
		t.Fatal("expected signal")
	}
	e.MarkSold(sym)
	clk.Advance(time.Minute)
	if _, ok := e.Evaluate(held(1000), q); ok {
		t.Fatal("symbol already sold today")
	}

	// A new trading day starts clean.
	clk.now = clk.now.Add(24 * time.Hour)
	if _, ok := e.Evaluate(held(1000), q); !ok {
		t.Fatal("expected signal on the next day")
	}
}

func TestGapIsCachedForTheDay(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig(), at(9, 31, 0))
	e.Evaluate(held(1000), quote(10, 10.2, 10.2, 10.2))
	e.Evaluate(held(1000), quote(10, 9.8, 10.2, 10.1))

	st, ok := e.State(sym)
	if !ok {
		t.Fatal("no state")
	}
	if st.Gap != GapUp {
		t.Errorf("Gap = %v, want up", st.Gap)
	}
	if st.Open != 10.2 {
		t.Errorf("Open = %v, want 10.2", st.Open)
	}
}

func TestStateTrackedOutsideHours(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig(), at(12, 0, 0))
	e.Evaluate(held(1000), quote(10, 10, 10.8, 10.2))
	st, ok := e.State(sym)
	if !ok || st.High != 10.8 {
		t.Fatalf("state = %+v, want high 10.8", st)
	}
	if st.MaxDrawdown <= 0.05 {
		t.Errorf("MaxDrawdown = %v", st.MaxDrawdown)
	}
}

func TestCheckTimeoutsResubmits(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	e.TrackOrder(PendingOrder{OrderID: "o1", Symbol: sym, Quantity: 500, Price: 10.5})

	quotes := map[string]domain.Quote{sym: quote(10, 10, 10.4, 10.3)}

	clk.Advance(time.Second)
	if got := e.CheckTimeouts(quotes); len(got) != 0 {
		t.Fatalf("resubmitted too early: %+v", got)
	}

	clk.Advance(2 * time.Second)
	got := e.CheckTimeouts(quotes)
	if len(got) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.CancelOrderID != "o1" || sig.Quantity != 500 || sig.Reason != domain.ReasonOrderTimeout {
		t.Errorf("signal = %+v", sig)
	}
	if want := 10.27; sig.Price < want-1e-9 || sig.Price > want+1e-9 {
		t.Errorf("Price = %v, want bid3 %v", sig.Price, want)
	}
	if len(e.Pending()) != 0 {
		t.Error("order should no longer be pending")
	}
}

func TestTrackOrderLeavesRulesArmed(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	e.TrackOrder(PendingOrder{OrderID: "tp", Symbol: sym, Quantity: 500, Source: "risk"})
	clk.Advance(time.Minute)
	if _, ok := e.Evaluate(held(500), quote(10, 10.2, 10.6, 10.35)); !ok {
		t.Fatal("watching an order must not block the rules")
	}
}

func TestRequeueResubmitsWithoutCancel(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	e.Requeue(PendingOrder{OrderID: "gone", Symbol: sym, Quantity: 500, Source: "risk"})
	e.Requeue(PendingOrder{Symbol: sym, Quantity: 400, Source: "risk"})

	pending := e.Pending()
	if len(pending) != 1 || pending[0].OrderID != "" || pending[0].Quantity != 400 {
		t.Fatalf("pending = %+v, want one requeued sell of 400", pending)
	}

	clk.Advance(3 * time.Second)
	got := e.CheckTimeouts(map[string]domain.Quote{sym: quote(10, 10, 10.4, 10.3)})
	if len(got) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.CancelOrderID != "" || sig.Quantity != 400 || sig.Source != "risk" || sig.FullExit {
		t.Errorf("signal = %+v", sig)
	}
	if len(e.Pending()) != 0 {
		t.Error("requeued sell still pending after resubmit")
	}
}

func TestCheckTimeoutsFallsBackToLastPrice(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	e.TrackOrder(PendingOrder{OrderID: "o1", Symbol: sym, Quantity: 500})
	clk.Advance(5 * time.Second)

	q := domain.Quote{Symbol: sym, LastPrice: 10.1}
	got := e.CheckTimeouts(map[string]domain.Quote{sym: q})
	if len(got) != 1 || got[0].Price != 10.1 {
		t.Fatalf("signals = %+v, want one at 10.1", got)
	}
}

func TestCheckTimeoutsHonoursCooldown(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	q := quote(10, 10.2, 10.6, 10.35)
	if _, ok := e.Evaluate(held(1000), q); !ok {
		t.Fatal("expected signal")
	}
	e.TrackOrder(PendingOrder{OrderID: "o1", Symbol: sym, Quantity: 1000, SubmittedAt: clk.Now()})

	clk.Advance(5 * time.Second)
	if got := e.CheckTimeouts(map[string]domain.Quote{sym: q}); len(got) != 0 {
		t.Fatalf("resubmitted during cooldown: %+v", got)
	}
	if len(e.Pending()) != 1 {
		t.Fatal("order should remain pending")
	}
	clk.Advance(30 * time.Second)
	if got := e.CheckTimeouts(map[string]domain.Quote{sym: q}); len(got) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(got))
	}
}

func TestUntrackedOrderIsNotResubmitted(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(10, 0, 0))
	e.TrackOrder(PendingOrder{OrderID: "o1", Symbol: sym, Quantity: 500})
	e.UntrackOrder("o1")
	clk.Advance(time.Minute)
	if got := e.CheckTimeouts(map[string]domain.Quote{sym: quote(10, 10, 10.4, 10.3)}); len(got) != 0 {
		t.Fatalf("signals = %+v", got)
	}
}

func TestRule7Disabled(t *testing.T) {
	e, clk := newTestEngine(without(RuleOrderTimeout), at(10, 0, 0))
	e.TrackOrder(PendingOrder{OrderID: "o1", Symbol: sym, Quantity: 500})
	clk.Advance(time.Minute)
	if got := e.CheckTimeouts(map[string]domain.Quote{sym: quote(10, 10, 10.4, 10.3)}); got != nil {
		t.Fatalf("signals = %+v", got)
	}
}

func TestManualTriggerAndReset(t *testing.T) {
	e, clk := newTestEngine(DefaultConfig(), at(12, 0, 0))
	q := quote(10, 10, 10.1, 10.05)

	sig, ok := e.ManualTrigger(held(700), q)
	if !ok {
		t.Fatal("manual trigger refused")
	}
	if sig.Reason != domain.ReasonManual || sig.Quantity != 700 || sig.Source != "operator" {
		t.Errorf("signal = %+v", sig)
	}
	clk.Advance(time.Second)
	if _, ok := e.ManualTrigger(held(700), q); ok {
		t.Fatal("manual trigger should respect cooldown")
	}
	e.ResetSymbol(sym)
	if _, ok := e.ManualTrigger(held(700), q); !ok {
		t.Fatal("reset should clear cooldown")
	}
}

func TestNoSignalWithoutAvailable(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig(), at(10, 0, 0))
	if _, ok := e.Evaluate(held(0), quote(10, 10.2, 10.6, 10.35)); ok {
		t.Fatal("nothing available to sell")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.Rule1Drawdown = -0.01
	bad.SellPriceLevel = 0
	bad.Rule7Timeout = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error")
	}
}
