// Package executor turns signals into broker orders and feeds order
// progress back into the ledger.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/ledger"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
)

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config controls order submission.
type Config struct {
	DedupTTL    time.Duration
	RateLimit   int
	RateWindow  time.Duration
	BuyFeeRate  float64
	SellFeeRate float64 // includes stamp duty
}

// DefaultConfig returns conservative submission limits.
func DefaultConfig() Config {
	return Config{
		DedupTTL:    5 * time.Minute,
		RateLimit:   20,
		RateWindow:  time.Minute,
		BuyFeeRate:  0.0003,
		SellFeeRate: 0.0013,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.DedupTTL <= 0 {
		errs = append(errs, fmt.Errorf("dedup_ttl must be > 0"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be >= 0"))
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate_window must be > 0 when rate_limit is set"))
	}
	if c.BuyFeeRate < 0 || c.SellFeeRate < 0 {
		errs = append(errs, fmt.Errorf("fee rates must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("executor: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

type trackedOrder struct {
	sig         domain.Signal
	req         domain.OrderRequest
	filled      int64
	submittedAt time.Time
}

// Executor is safe for concurrent use.
type Executor struct {
	broker domain.BrokerGateway
	ledger *ledger.Ledger
	rules  *sellrule.Engine
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger

	trades   domain.TradeStore
	audit    domain.AuditStore
	limiter  domain.RateLimiter
	notifier Notifier
	dedup    *Dedup

	mu     sync.Mutex
	orders map[string]*trackedOrder
}

// Option customises an Executor.
type Option func(*Executor)

// WithTradeStore records every fill.
func WithTradeStore(ts domain.TradeStore) Option { return func(e *Executor) { e.trades = ts } }

// WithAuditStore records submissions and cancels.
func WithAuditStore(as domain.AuditStore) Option { return func(e *Executor) { e.audit = as } }

// WithRateLimiter caps order submissions per window.
func WithRateLimiter(rl domain.RateLimiter) Option { return func(e *Executor) { e.limiter = rl } }

// WithNotifier alerts the operator on submissions and fills.
func WithNotifier(n Notifier) Option { return func(e *Executor) { e.notifier = n } }

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option { return func(e *Executor) { e.clock = clock } }

// New creates an Executor.
func New(
	broker domain.BrokerGateway,
	l *ledger.Ledger,
	rules *sellrule.Engine,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		broker: broker,
		ledger: l,
		rules:  rules,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "executor")),
		orders: make(map[string]*trackedOrder),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dedup = NewDedup(cfg.DedupTTL, e.clock)
	return e
}

// Execute validates a signal, sizes it to whole lots and submits it. Sell
// quantity is reserved in the ledger before submission and released if
// the broker refuses. A signal carrying CancelOrderID first cancels that
// order; when the cancel fails the resubmission is abandoned, and when the
// replacement fails after a successful cancel the sell is requeued for the
// next timeout check.
func (e *Executor) Execute(ctx context.Context, sig domain.Signal) (err error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("reason", sig.Reason),
	)

	if e.dedup.IsDuplicate(sig.ID) {
		return fmt.Errorf("executor: signal %s: %w", sig.ID, domain.ErrDuplicateSignal)
	}
	// A rejected signal may be re-emitted with the same id next cycle.
	accepted := false
	defer func() {
		if !accepted {
			e.dedup.Forget(sig.ID)
		}
	}()

	if sig.Expired(e.clock()) {
		return fmt.Errorf("executor: signal %s: %w", sig.ID, domain.ErrSignalExpired)
	}

	if e.limiter != nil && e.cfg.RateLimit > 0 {
		ok, err := e.limiter.Allow(ctx, "orders", e.cfg.RateLimit, e.cfg.RateWindow)
		switch {
		case err != nil:
			log.WarnContext(ctx, "executor: rate limiter unavailable, continuing", slog.String("error", err.Error()))
		case !ok:
			return fmt.Errorf("executor: signal %s: %w", sig.ID, domain.ErrRateLimited)
		}
	}

	if sig.CancelOrderID != "" {
		if err := e.cancel(ctx, sig.CancelOrderID); err != nil {
			return fmt.Errorf("executor: replace %s: %w", sig.CancelOrderID, err)
		}
		defer func() {
			if err != nil {
				e.requeue(ctx, sig, err)
			}
		}()
	}

	req, err := e.size(sig)
	if err != nil {
		return err
	}

	if req.Direction == domain.DirectionSell {
		if err := e.ledger.ReserveAvailable(req.Symbol, req.Quantity); err != nil {
			return fmt.Errorf("executor: reserve: %w", err)
		}
	}

	orderID, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		if req.Direction == domain.DirectionSell {
			e.ledger.ReleaseAvailable(req.Symbol, req.Quantity)
		}
		e.notify(ctx, "order_failed", fmt.Sprintf("Order failed %s %s", req.Direction, req.Symbol),
			fmt.Sprintf("%s x%d (%s): %v", req.Symbol, req.Quantity, sig.Reason, err))
		return fmt.Errorf("executor: submit %s %s x%d: %w", req.Direction, req.Symbol, req.Quantity, err)
	}
	accepted = true

	now := e.clock()
	e.mu.Lock()
	e.orders[orderID] = &trackedOrder{sig: sig, req: req, submittedAt: now}
	e.mu.Unlock()

	switch {
	case sig.Source == "grid":
		if _, err := e.ledger.AttachGridOrder(sig.Symbol, sig.GridLevel, orderID); err != nil {
			log.WarnContext(ctx, "executor: attach grid order failed", slog.String("error", err.Error()))
		}
	case req.Direction == domain.DirectionSell && e.rules != nil:
		e.rules.TrackOrder(sellrule.PendingOrder{
			OrderID:     orderID,
			Symbol:      req.Symbol,
			Quantity:    req.Quantity,
			Price:       req.Price,
			Reason:      sig.Reason,
			Source:      sig.Source,
			FullExit:    sig.FullExit,
			SubmittedAt: now,
		})
		if sig.Source == "sellrule" {
			e.rules.MarkSold(req.Symbol)
		}
	}

	log.InfoContext(ctx, "executor: order submitted",
		slog.String("order_id", orderID),
		slog.String("direction", string(req.Direction)),
		slog.Int64("quantity", req.Quantity),
		slog.Float64("price", req.Price),
		slog.String("type", string(req.Type)),
	)
	e.auditLog(ctx, "order_submitted", map[string]any{
		"order_id":  orderID,
		"signal_id": sig.ID,
		"symbol":    req.Symbol,
		"direction": string(req.Direction),
		"quantity":  req.Quantity,
		"price":     req.Price,
		"reason":    sig.Reason,
	})
	// Subscribers filter on the signal reason, e.g. hard_stop_loss.
	e.notify(ctx, sig.Reason, fmt.Sprintf("%s %s", req.Direction, req.Symbol),
		fmt.Sprintf("%s x%d @ %.2f (%s)", req.Symbol, req.Quantity, req.Price, sig.Reason))
	return nil
}

// requeue keeps a cancelled sell alive after its replacement failed. A
// position that is gone or has nothing left to sell is dropped.
func (e *Executor) requeue(ctx context.Context, sig domain.Signal, cause error) {
	if e.rules == nil || sig.Direction != domain.DirectionSell {
		return
	}
	if errors.Is(cause, domain.ErrNotFound) || errors.Is(cause, domain.ErrInsufficientAvailable) {
		return
	}
	e.rules.Requeue(sellrule.PendingOrder{
		Symbol:   sig.Symbol,
		Quantity: sig.Quantity,
		Price:    sig.Price,
		Reason:   sig.Reason,
		Source:   sig.Source,
		FullExit: sig.FullExit,
	})
	e.logger.WarnContext(ctx, "executor: replacement failed, sell requeued",
		slog.String("symbol", sig.Symbol),
		slog.String("cancelled_order_id", sig.CancelOrderID),
		slog.String("error", cause.Error()),
	)
}

// size converts a signal into an order request. Buys are floored to whole
// lots; sells are capped at the available quantity, keeping an odd-lot
// remainder only when the whole position is sold.
func (e *Executor) size(sig domain.Signal) (domain.OrderRequest, error) {
	req := domain.OrderRequest{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Price:     domain.RoundToTick(sig.Price),
		Type:      domain.OrderTypeLimit,
		Strategy:  sig.Reason,
	}
	if req.Price <= 0 {
		req.Type = domain.OrderTypeMarketAdjusted
	}

	switch sig.Direction {
	case domain.DirectionBuy:
		req.Quantity = domain.LotFloor(sig.Quantity)
		if req.Quantity == 0 {
			return req, fmt.Errorf("executor: buy %s x%d: %w", sig.Symbol, sig.Quantity, domain.ErrInvalidQuantity)
		}
	case domain.DirectionSell:
		snap, ok := e.ledger.Snapshot(sig.Symbol)
		if !ok {
			return req, fmt.Errorf("executor: sell %s: %w", sig.Symbol, domain.ErrNotFound)
		}
		req.Quantity = domain.SellableQuantity(sig.Quantity, snap.AvailableQuantity)
		if req.Quantity == 0 {
			return req, fmt.Errorf("executor: sell %s x%d (available %d): %w",
				sig.Symbol, sig.Quantity, snap.AvailableQuantity, domain.ErrInsufficientAvailable)
		}
	default:
		return req, fmt.Errorf("executor: unknown direction %q", sig.Direction)
	}
	return req, nil
}

// cancel cancels a tracked order and releases its unfilled reservation.
func (e *Executor) cancel(ctx context.Context, orderID string) error {
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if e.rules != nil {
		e.rules.UntrackOrder(orderID)
	}

	e.mu.Lock()
	t, ok := e.orders[orderID]
	delete(e.orders, orderID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if t.req.Direction == domain.DirectionSell {
		if remaining := t.req.Quantity - t.filled; remaining > 0 {
			e.ledger.ReleaseAvailable(t.req.Symbol, remaining)
		}
	}
	e.auditLog(ctx, "order_cancelled", map[string]any{
		"order_id": orderID,
		"symbol":   t.req.Symbol,
		"filled":   t.filled,
	})
	return nil
}

// SyncOrders polls every tracked order, applies new fills to the ledger,
// appends trade records and retires orders that reached a terminal state.
func (e *Executor) SyncOrders(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		rep, err := e.broker.Order(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		e.applyReport(ctx, id, rep)
	}
	e.dedup.Cleanup()
	if len(errs) > 0 {
		return fmt.Errorf("executor: sync orders: %w", errors.Join(errs...))
	}
	return nil
}

func (e *Executor) applyReport(ctx context.Context, id string, rep domain.OrderReport) {
	e.mu.Lock()
	t, ok := e.orders[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delta := rep.FilledQuantity - t.filled
	if delta > 0 {
		t.filled = rep.FilledQuantity
	}
	terminal := rep.Status.IsTerminal()
	if terminal {
		delete(e.orders, id)
	}
	e.mu.Unlock()

	log := e.logger.With(
		slog.String("order_id", id),
		slog.String("symbol", t.req.Symbol),
	)

	if delta > 0 {
		price := rep.AvgPrice
		if price <= 0 {
			price = t.req.Price
		}
		if err := e.ledger.ApplyFill(t.req.Symbol, t.req.Direction, delta, price); err != nil {
			log.WarnContext(ctx, "executor: apply fill failed", slog.String("error", err.Error()))
		}
		e.recordTrade(ctx, t, id, delta, price)
		log.InfoContext(ctx, "executor: fill",
			slog.String("direction", string(t.req.Direction)),
			slog.Int64("quantity", delta),
			slog.Float64("price", price),
		)
		e.notify(ctx, "order_filled", fmt.Sprintf("Filled %s %s", t.req.Direction, t.req.Symbol),
			fmt.Sprintf("%s x%d @ %.2f (%s)", t.req.Symbol, delta, price, t.sig.Reason))
	}
	if !terminal {
		return
	}

	if e.rules != nil {
		e.rules.UntrackOrder(id)
	}
	if t.req.Direction == domain.DirectionSell && rep.Status != domain.OrderStatusFilled {
		if remaining := t.req.Quantity - t.filled; remaining > 0 {
			e.ledger.ReleaseAvailable(t.req.Symbol, remaining)
		}
	}
	if t.sig.Source == "grid" {
		var err error
		if t.filled > 0 {
			_, err = e.ledger.CompleteGridLevel(t.req.Symbol, t.sig.GridLevel)
		} else {
			_, err = e.ledger.RevertGridLevel(t.req.Symbol, t.sig.GridLevel)
		}
		if err != nil {
			log.WarnContext(ctx, "executor: grid transition failed", slog.String("error", err.Error()))
		}
	}
	log.InfoContext(ctx, "executor: order closed",
		slog.String("status", string(rep.Status)),
		slog.Int64("filled", t.filled),
	)
}

func (e *Executor) recordTrade(ctx context.Context, t *trackedOrder, orderID string, qty int64, price float64) {
	if e.trades == nil {
		return
	}
	amount := float64(qty) * price
	rate := e.cfg.BuyFeeRate
	if t.req.Direction == domain.DirectionSell {
		rate = e.cfg.SellFeeRate
	}
	rec := domain.TradeRecord{
		Symbol:     t.req.Symbol,
		Direction:  t.req.Direction,
		Price:      price,
		Quantity:   qty,
		Amount:     amount,
		OrderID:    orderID,
		Strategy:   t.sig.Reason,
		Commission: amount * rate,
		TradedAt:   e.clock(),
	}
	if err := e.trades.AppendTradeRecord(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "executor: append trade record failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// OpenOrders returns the ids of orders still being tracked.
func (e *Executor) OpenOrders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.orders))
	for id := range e.orders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Executor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "executor: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "executor: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
