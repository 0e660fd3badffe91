package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// ReconcileResult summarises one reconcile pass.
type ReconcileResult struct {
	Opened  []string
	Changed []string
	Removed []string
	Skipped int // invalid broker rows
}

// Reconcile pulls the broker's holdings and converges the ledger onto
// them. Broker-owned fields (quantity, available, cost) are overwritten;
// ledger-owned fields are left alone. Symbols the broker no longer
// reports are dropped from the live set; a symbol whose row was rejected
// keeps its previous state. On a broker error nothing is touched. Repeating the call with unchanged broker data changes nothing.
func (l *Ledger) Reconcile(ctx context.Context) (ReconcileResult, error) {
	bctx, cancel := context.WithTimeout(ctx, l.cfg.BrokerTimeout)
	defer cancel()

	rows, err := l.broker.Positions(bctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("ledger: reconcile: %w", err)
	}

	var res ReconcileResult
	reported := make(map[string]domain.BrokerPosition, len(rows))
	rejected := make(map[string]bool)
	for _, row := range rows {
		row, ok := l.validateRow(row)
		if !ok {
			res.Skipped++
			if row.Symbol != "" {
				rejected[row.Symbol] = true
			}
			continue
		}
		if _, dup := reported[row.Symbol]; dup {
			l.logger.Warn("ledger: duplicate broker row ignored", slog.String("symbol", row.Symbol))
			res.Skipped++
			continue
		}
		if row.Quantity == 0 {
			continue
		}
		reported[row.Symbol] = row
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guardLocked(reported, rejected); err != nil {
		return ReconcileResult{}, err
	}

	now := l.clock()
	for sym, row := range reported {
		p, ok := l.positions[sym]
		if !ok {
			p = l.openLocked(row)
			l.positions[sym] = p
			res.Opened = append(res.Opened, sym)
			continue
		}
		if l.applyBrokerLocked(p, row) {
			p.LastUpdate = now
			res.Changed = append(res.Changed, sym)
		}
	}

	for sym, p := range l.positions {
		if _, ok := reported[sym]; ok || rejected[sym] {
			continue
		}
		p.Quantity, p.AvailableQuantity, p.MarketValue = 0, 0, 0
		delete(l.positions, sym)
		l.markDeletedLocked(sym)
		res.Removed = append(res.Removed, sym)
		l.logger.Info("ledger: position closed", slog.String("symbol", sym))
	}

	// Durable rows left over from a previous run for symbols that are no
	// longer held. A rejected symbol keeps its restored state for the
	// reconcile that finally opens it.
	if !l.reconciled {
		for sym := range l.restored {
			if rejected[sym] {
				continue
			}
			if _, ok := reported[sym]; !ok {
				l.markDeletedLocked(sym)
			}
			delete(l.restored, sym)
			delete(l.restoredGrids, sym)
		}
		l.reconciled = true
	}

	sort.Strings(res.Opened)
	sort.Strings(res.Changed)
	sort.Strings(res.Removed)
	return res, nil
}

// validateRow enforces the row invariants at the boundary where broker
// data enters the ledger. A held row needs a positive cost; without one no
// risk level can be computed.
func (l *Ledger) validateRow(row domain.BrokerPosition) (domain.BrokerPosition, bool) {
	if row.Symbol == "" || row.Quantity < 0 || row.CostPrice < 0 || (row.Quantity > 0 && row.CostPrice == 0) {
		l.logger.Warn("ledger: invalid broker row",
			slog.String("symbol", row.Symbol),
			slog.Int64("quantity", row.Quantity),
			slog.Float64("cost_price", row.CostPrice),
		)
		return row, false
	}
	if row.AvailableQuantity < 0 {
		row.AvailableQuantity = 0
	}
	if row.AvailableQuantity > row.Quantity {
		l.logger.Warn("ledger: available exceeds quantity, clamped",
			slog.String("symbol", row.Symbol),
			slog.Int64("available", row.AvailableQuantity),
			slog.Int64("quantity", row.Quantity),
		)
		row.AvailableQuantity = row.Quantity
	}
	return row, true
}

// guardLocked rejects a snapshot that suddenly drops most held symbols,
// which usually means the terminal returned a partial answer. After
// SuspectMaxSkips consecutive rejections the snapshot is accepted.
func (l *Ledger) guardLocked(reported map[string]domain.BrokerPosition, rejected map[string]bool) error {
	held := len(l.positions)
	if held < l.cfg.SuspectMinHeld || held == 0 {
		l.suspectSkips = 0
		return nil
	}
	missing := 0
	for sym := range l.positions {
		if _, ok := reported[sym]; !ok && !rejected[sym] {
			missing++
		}
	}
	if float64(missing)/float64(held) <= l.cfg.SuspectDropRatio || l.suspectSkips >= l.cfg.SuspectMaxSkips {
		l.suspectSkips = 0
		return nil
	}
	l.suspectSkips++
	l.logger.Warn("ledger: broker snapshot looks partial, skipping",
		slog.Int("held", held),
		slog.Int("missing", missing),
		slog.Int("consecutive_skips", l.suspectSkips),
	)
	return fmt.Errorf("%w: %d of %d held symbols missing", ErrSuspectSnapshot, missing, held)
}

func (l *Ledger) openLocked(row domain.BrokerPosition) *domain.PositionState {
	now := l.clock()
	p := &domain.PositionState{
		Symbol:            row.Symbol,
		Name:              row.Name,
		Quantity:          row.Quantity,
		AvailableQuantity: row.AvailableQuantity,
		CostPrice:         row.CostPrice,
		OpenDate:          now,
		HighestPrice:      row.CostPrice,
		LastUpdate:        now,
	}
	if d, ok := l.restored[row.Symbol]; ok {
		if !d.OpenDate.IsZero() {
			p.OpenDate = d.OpenDate
		}
		p.ProfitTriggered = d.ProfitTriggered
		p.HighestPrice = max(d.HighestPrice, row.CostPrice)
		if gts, ok := l.restoredGrids[row.Symbol]; ok {
			p.GridTrades = gts
		}
		delete(l.restored, row.Symbol)
		delete(l.restoredGrids, row.Symbol)
	}
	delete(l.pendingDeletes, row.Symbol)
	l.recomputeStopLocked(p)
	l.logger.Info("ledger: position opened",
		slog.String("symbol", p.Symbol),
		slog.Int64("quantity", p.Quantity),
		slog.Float64("cost_price", p.CostPrice),
		slog.Bool("restored", !p.OpenDate.Equal(now)),
	)
	return p
}

// applyBrokerLocked copies broker-owned fields and reports whether
// anything changed.
func (l *Ledger) applyBrokerLocked(p *domain.PositionState, row domain.BrokerPosition) bool {
	if p.Quantity == row.Quantity &&
		p.AvailableQuantity == row.AvailableQuantity &&
		p.CostPrice == row.CostPrice &&
		(row.Name == "" || p.Name == row.Name) {
		return false
	}
	costChanged := p.CostPrice != row.CostPrice
	p.Quantity = row.Quantity
	p.AvailableQuantity = row.AvailableQuantity
	p.CostPrice = row.CostPrice
	if row.Name != "" {
		p.Name = row.Name
	}
	if p.CurrentPrice > 0 {
		p.MarketValue = float64(p.Quantity) * p.CurrentPrice
		if p.CostPrice > 0 {
			p.ProfitRatio = (p.CurrentPrice - p.CostPrice) / p.CostPrice
		}
	}
	if costChanged {
		if p.HighestPrice < p.CostPrice {
			p.HighestPrice = p.CostPrice
		}
		l.recomputeStopLocked(p)
	}
	return true
}

func (l *Ledger) markDeletedLocked(symbol string) {
	if _, ok := l.persisted[symbol]; ok {
		l.pendingDeletes[symbol] = struct{}{}
	}
	delete(l.dirtyGrids, symbol)
}
