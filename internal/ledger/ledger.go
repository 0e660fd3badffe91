// Package ledger owns the live symbol → PositionState map. It is the only
// writer of position state: the broker snapshot, quote refreshes and fills
// all enter through its methods, and evaluators read deep-copied
// snapshots.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/risk"
)

// ErrSuspectSnapshot is returned by Reconcile when the broker snapshot is
// rejected as implausible and the cycle is skipped.
var ErrSuspectSnapshot = errors.New("ledger: suspect broker snapshot")

// Config tunes timeouts, the reconcile guard and persistence retries.
type Config struct {
	BrokerTimeout    time.Duration
	QuoteTimeout     time.Duration
	QuoteConcurrency int

	// A snapshot that drops more than SuspectDropRatio of at least
	// SuspectMinHeld held symbols is skipped, at most SuspectMaxSkips
	// times in a row.
	SuspectDropRatio float64
	SuspectMinHeld   int
	SuspectMaxSkips  int

	PersistBackoffBase time.Duration
	PersistBackoffMax  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BrokerTimeout:      5 * time.Second,
		QuoteTimeout:       3 * time.Second,
		QuoteConcurrency:   8,
		SuspectDropRatio:   0.5,
		SuspectMinHeld:     3,
		SuspectMaxSkips:    3,
		PersistBackoffBase: time.Second,
		PersistBackoffMax:  time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.BrokerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("broker_timeout must be > 0"))
	}
	if c.QuoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("quote_timeout must be > 0"))
	}
	if c.QuoteConcurrency < 1 {
		errs = append(errs, fmt.Errorf("quote_concurrency must be >= 1"))
	}
	if c.SuspectDropRatio <= 0 || c.SuspectDropRatio > 1 {
		errs = append(errs, fmt.Errorf("suspect_drop_ratio must be in (0,1], got %v", c.SuspectDropRatio))
	}
	if c.SuspectMaxSkips < 0 {
		errs = append(errs, fmt.Errorf("suspect_max_skips must be >= 0"))
	}
	if c.PersistBackoffBase <= 0 || c.PersistBackoffMax < c.PersistBackoffBase {
		errs = append(errs, fmt.Errorf("persist backoff must satisfy 0 < base <= max"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("ledger: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Ledger is safe for concurrent use. Mutations hold the write lock;
// snapshots and the HTTP read path hold the read lock.
type Ledger struct {
	broker domain.BrokerGateway
	store  domain.PositionStore
	grids  domain.GridStore
	risk   risk.Config
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.PositionState
	// restored holds durable state loaded at startup for symbols the broker
	// has not reported yet.
	restored      map[string]domain.DurablePosition
	restoredGrids map[string][]domain.GridTrade
	reconciled    bool
	suspectSkips  int

	// Persistence bookkeeping, guarded by mu.
	persisted      map[string]domain.DurablePosition
	pendingDeletes map[string]struct{}
	dirtyGrids     map[string]struct{}

	flushMu     sync.Mutex
	failures    int
	nextAttempt time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithGridStore persists grid ladders alongside positions.
func WithGridStore(gs domain.GridStore) Option {
	return func(l *Ledger) { l.grids = gs }
}

// New creates an empty Ledger. Call Restore before the first Reconcile to
// pick up durable state from a previous run.
func New(
	broker domain.BrokerGateway,
	store domain.PositionStore,
	riskCfg risk.Config,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Ledger {
	l := &Ledger{
		broker:         broker,
		store:          store,
		risk:           riskCfg,
		cfg:            cfg,
		clock:          time.Now,
		logger:         logger.With(slog.String("component", "ledger")),
		positions:      make(map[string]*domain.PositionState),
		restored:       make(map[string]domain.DurablePosition),
		restoredGrids:  make(map[string][]domain.GridTrade),
		persisted:      make(map[string]domain.DurablePosition),
		pendingDeletes: make(map[string]struct{}),
		dirtyGrids:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore loads the durable fields written by a previous run. They are
// applied when the broker first reports each symbol.
func (l *Ledger) Restore(ctx context.Context) error {
	rows, err := l.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: restore positions: %w", err)
	}
	grids := make(map[string][]domain.GridTrade)
	if l.grids != nil {
		for _, d := range rows {
			gts, err := l.grids.ListGridTrades(ctx, d.Symbol)
			if err != nil {
				return fmt.Errorf("ledger: restore grid for %s: %w", d.Symbol, err)
			}
			if len(gts) > 0 {
				grids[d.Symbol] = gts
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range rows {
		l.restored[d.Symbol] = d
		l.persisted[d.Symbol] = d
	}
	for sym, gts := range grids {
		l.restoredGrids[sym] = gts
	}
	l.logger.Info("ledger: restored durable state",
		slog.Int("positions", len(rows)),
		slog.Int("grids", len(grids)),
	)
	return nil
}

// Snapshot returns a deep copy of one position.
func (l *Ledger) Snapshot(symbol string) (domain.PositionState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.PositionState{}, false
	}
	return p.Clone(), true
}

// Snapshots returns deep copies of every position ordered by symbol.
func (l *Ledger) Snapshots() []domain.PositionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PositionState, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the held symbols (quantity > 0) in order.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.heldSymbolsLocked()
}

func (l *Ledger) heldSymbolsLocked() []string {
	out := make([]string, 0, len(l.positions))
	for sym, p := range l.positions {
		if p.Quantity > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// MarkProfitTriggered arms the trailing stop. It reports whether the flag
// changed; calling it again is a no-op.
func (l *Ledger) MarkProfitTriggered(symbol string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return false, fmt.Errorf("ledger: mark profit triggered %s: %w", symbol, domain.ErrNotFound)
	}
	if p.ProfitTriggered {
		return false, nil
	}
	p.ProfitTriggered = true
	l.recomputeStopLocked(p)
	p.LastUpdate = l.clock()
	l.logger.Info("ledger: profit triggered",
		slog.String("symbol", symbol),
		slog.Float64("highest_price", p.HighestPrice),
		slog.Float64("stop_loss_price", p.StopLossPrice),
	)
	return true, nil
}

// ResetState restarts the lifecycle of one position: open date becomes
// now, the peak is re-seeded from cost and the current price, the profit
// trigger is cleared and the grid ladder dropped. Open date and peak are
// re-seeded rather than zeroed so the stop level stays defined for a
// position that is still held. Operator use only.
func (l *Ledger) ResetState(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("ledger: reset %s: %w", symbol, domain.ErrNotFound)
	}
	now := l.clock()
	p.OpenDate = now
	p.ProfitTriggered = false
	p.HighestPrice = max(p.CostPrice, p.CurrentPrice)
	l.recomputeStopLocked(p)
	if len(p.GridTrades) > 0 {
		p.GridTrades = nil
		l.dirtyGrids[symbol] = struct{}{}
	}
	p.LastUpdate = now
	l.logger.Warn("ledger: position state reset", slog.String("symbol", symbol))
	return nil
}

// ReserveAvailable takes qty out of the sellable quantity when a sell
// order is submitted.
func (l *Ledger) ReserveAvailable(symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrInvalidQuantity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("ledger: reserve %s: %w", symbol, domain.ErrNotFound)
	}
	if p.AvailableQuantity < qty {
		return fmt.Errorf("ledger: reserve %d of %s (available %d): %w",
			qty, symbol, p.AvailableQuantity, domain.ErrInsufficientAvailable)
	}
	p.AvailableQuantity -= qty
	p.LastUpdate = l.clock()
	return nil
}

// ReleaseAvailable returns reserved quantity after a cancel or rejection.
func (l *Ledger) ReleaseAvailable(symbol string, qty int64) {
	if qty <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return
	}
	p.AvailableQuantity = min(p.AvailableQuantity+qty, p.Quantity)
	p.LastUpdate = l.clock()
}

// ApplyFill folds a confirmed trade into the position ahead of the next
// reconcile. Buys raise quantity and re-weight cost but not the available
// quantity, since shares bought today settle T+1. Sells lower quantity;
// their available quantity was already reserved at submission.
func (l *Ledger) ApplyFill(symbol string, dir domain.Direction, qty int64, price float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("ledger: apply fill %s qty=%d price=%v: %w", symbol, qty, price, domain.ErrInvalidQuantity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()

	p, ok := l.positions[symbol]
	switch dir {
	case domain.DirectionBuy:
		if !ok {
			p = &domain.PositionState{Symbol: symbol, OpenDate: now}
			l.positions[symbol] = p
		}
		p.CostPrice = domain.WeightedCost(p.Quantity, p.CostPrice, qty, price)
		p.Quantity += qty
		if p.OpenDate.IsZero() {
			p.OpenDate = now
		}
		if p.HighestPrice < p.CostPrice {
			p.HighestPrice = p.CostPrice
		}
	case domain.DirectionSell:
		if !ok {
			return fmt.Errorf("ledger: apply sell fill %s: %w", symbol, domain.ErrNotFound)
		}
		if qty > p.Quantity {
			l.logger.Warn("ledger: sell fill exceeds quantity",
				slog.String("symbol", symbol),
				slog.Int64("fill", qty),
				slog.Int64("quantity", p.Quantity),
			)
			qty = p.Quantity
		}
		p.Quantity -= qty
		p.AvailableQuantity = min(p.AvailableQuantity, p.Quantity)
	default:
		return fmt.Errorf("ledger: apply fill %s: unknown direction %q", symbol, dir)
	}

	if p.CurrentPrice > 0 {
		p.MarketValue = float64(p.Quantity) * p.CurrentPrice
		if p.CostPrice > 0 {
			p.ProfitRatio = (p.CurrentPrice - p.CostPrice) / p.CostPrice
		}
	}
	l.recomputeStopLocked(p)
	p.LastUpdate = now

	l.logger.Info("ledger: fill applied",
		slog.String("symbol", symbol),
		slog.String("direction", string(dir)),
		slog.Int64("quantity", qty),
		slog.Float64("price", price),
		slog.Int64("position", p.Quantity),
		slog.Float64("cost_price", p.CostPrice),
	)
	return nil
}

func (l *Ledger) recomputeStopLocked(p *domain.PositionState) {
	p.StopLossPrice = risk.ComputeStopLossPrice(*p, l.risk)
}
