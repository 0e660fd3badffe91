// Package paper is an in-process broker that simulates A-share order
// handling against live quotes: limit orders fill when the last price
// crosses, buys settle T+1, and sell submissions freeze available shares.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// Holding seeds the simulated account.
type Holding struct {
	Symbol   string
	Name     string
	Quantity int64
	Cost     float64
}

type position struct {
	name      string
	quantity  int64
	available int64
	cost      float64
	// bought today, not yet sellable
	unsettled int64
}

// Broker implements domain.BrokerGateway. Safe for concurrent use.
type Broker struct {
	quotes domain.QuoteSource
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	orders    map[string]*domain.OrderReport
	prices    map[string]float64 // limit price per open order
	seq       int
	day       string
}

var _ domain.BrokerGateway = (*Broker)(nil)

// Option customises a Broker.
type Option func(*Broker)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) { b.clock = clock }
}

// New creates a paper account with the given cash and holdings. Seeded
// holdings are fully settled.
func New(quotes domain.QuoteSource, cash float64, holdings []Holding, logger *slog.Logger, opts ...Option) *Broker {
	b := &Broker{
		quotes:    quotes,
		clock:     time.Now,
		logger:    logger.With(slog.String("component", "paper_broker")),
		cash:      cash,
		positions: make(map[string]*position),
		orders:    make(map[string]*domain.OrderReport),
		prices:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, h := range holdings {
		if h.Symbol == "" || h.Quantity <= 0 {
			continue
		}
		b.positions[h.Symbol] = &position{
			name:      h.Name,
			quantity:  h.Quantity,
			available: h.Quantity,
			cost:      h.Cost,
		}
	}
	b.day = b.clock().In(domain.Shanghai).Format("2006-01-02")
	return b
}

// Positions returns the holdings, settling yesterday's buys first.
func (b *Broker) Positions(_ context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()

	out := make([]domain.BrokerPosition, 0, len(b.positions))
	for sym, p := range b.positions {
		if p.quantity <= 0 {
			continue
		}
		out = append(out, domain.BrokerPosition{
			Symbol:            sym,
			Name:              p.name,
			Quantity:          p.quantity,
			AvailableQuantity: p.available,
			CostPrice:         p.cost,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Cash returns the uncommitted cash balance.
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// SubmitOrder accepts an order. Buys must be whole lots and fundable at
// the reference price; sells freeze available shares until fill or cancel.
func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if req.Quantity <= 0 {
		return "", fmt.Errorf("paper: %w", domain.ErrInvalidQuantity)
	}
	ref := req.Price
	if req.Type == domain.OrderTypeMarketAdjusted || ref <= 0 {
		price, err := b.quotes.LatestPrice(ctx, req.Symbol)
		if err != nil {
			return "", fmt.Errorf("paper: price %s: %w", req.Symbol, err)
		}
		ref = price
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()

	switch req.Direction {
	case domain.DirectionBuy:
		if req.Quantity%domain.LotSize != 0 {
			return "", fmt.Errorf("paper: buy %d not a whole lot: %w", req.Quantity, domain.ErrOrderRejected)
		}
		if cost := float64(req.Quantity) * ref; cost > b.cash {
			return "", fmt.Errorf("paper: buy %s needs %.2f, cash %.2f: %w", req.Symbol, cost, b.cash, domain.ErrOrderRejected)
		}
	case domain.DirectionSell:
		p, ok := b.positions[req.Symbol]
		if !ok || p.available < req.Quantity {
			return "", fmt.Errorf("paper: sell %s x%d: %w", req.Symbol, req.Quantity, domain.ErrInsufficientAvailable)
		}
		p.available -= req.Quantity
	default:
		return "", fmt.Errorf("paper: unknown direction %q: %w", req.Direction, domain.ErrOrderRejected)
	}

	b.seq++
	id := fmt.Sprintf("paper-%d", b.seq)
	b.orders[id] = &domain.OrderReport{
		OrderID:   id,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusSubmitted,
		UpdatedAt: b.clock(),
	}
	if req.Type == domain.OrderTypeLimit && req.Price > 0 {
		b.prices[id] = req.Price
	}
	b.logger.Info("paper: order accepted",
		slog.String("order_id", id),
		slog.String("symbol", req.Symbol),
		slog.String("direction", string(req.Direction)),
		slog.Int64("quantity", req.Quantity),
		slog.Float64("price", req.Price),
	)
	return id, nil
}

// CancelOrder cancels an open order and unfreezes its shares.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("paper: cancel %s in state %s: %w", orderID, o.Status, domain.ErrOrderRejected)
	}
	if o.Direction == domain.DirectionSell {
		if p, ok := b.positions[o.Symbol]; ok {
			p.available += o.Quantity - o.FilledQuantity
		}
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = b.clock()
	delete(b.prices, orderID)
	return nil
}

// Order returns the order's state, first trying to fill it against the
// latest price.
func (b *Broker) Order(ctx context.Context, orderID string) (domain.OrderReport, error) {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.OrderReport{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Status.IsTerminal() {
		rep := *o
		b.mu.Unlock()
		return rep, nil
	}
	symbol := o.Symbol
	b.mu.Unlock()

	last, err := b.quotes.LatestPrice(ctx, symbol)
	if err != nil && !errors.Is(err, domain.ErrQuoteUnavailable) {
		return domain.OrderReport{}, fmt.Errorf("paper: price %s: %w", symbol, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if last > 0 && !o.Status.IsTerminal() {
		b.tryFillLocked(o, last)
	}
	return *o, nil
}

func (b *Broker) tryFillLocked(o *domain.OrderReport, last float64) {
	limit, isLimit := b.prices[o.OrderID]
	price := last
	if isLimit {
		switch o.Direction {
		case domain.DirectionBuy:
			if last > limit {
				return
			}
		case domain.DirectionSell:
			if last < limit {
				return
			}
		}
	}

	qty := o.Quantity - o.FilledQuantity
	switch o.Direction {
	case domain.DirectionBuy:
		if cost := float64(qty) * price; cost > b.cash {
			o.Status = domain.OrderStatusRejected
			o.UpdatedAt = b.clock()
			delete(b.prices, o.OrderID)
			return
		}
		p, ok := b.positions[o.Symbol]
		if !ok {
			p = &position{}
			b.positions[o.Symbol] = p
		}
		p.cost = domain.WeightedCost(p.quantity, p.cost, qty, price)
		p.quantity += qty
		p.unsettled += qty
		b.cash -= float64(qty) * price
	case domain.DirectionSell:
		p := b.positions[o.Symbol]
		if p == nil {
			o.Status = domain.OrderStatusRejected
			return
		}
		p.quantity -= qty
		b.cash += float64(qty) * price
		if p.quantity <= 0 {
			delete(b.positions, o.Symbol)
		}
	}

	o.AvgPrice = price
	o.FilledQuantity = o.Quantity
	o.Status = domain.OrderStatusFilled
	o.UpdatedAt = b.clock()
	delete(b.prices, o.OrderID)
	b.logger.Info("paper: order filled",
		slog.String("order_id", o.OrderID),
		slog.String("symbol", o.Symbol),
		slog.Int64("quantity", qty),
		slog.Float64("price", price),
	)
}

// settleLocked releases yesterday's buys once the trading date rolls.
func (b *Broker) settleLocked() {
	today := b.clock().In(domain.Shanghai).Format("2006-01-02")
	if today == b.day {
		return
	}
	b.day = today
	for _, p := range b.positions {
		p.available += p.unsettled
		p.unsettled = 0
	}
}
