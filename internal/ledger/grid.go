package ledger

import (
	"fmt"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// SetGridPlan replaces the grid ladder of a symbol.
func (l *Ledger) SetGridPlan(symbol string, plan []domain.GridTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("ledger: set grid %s: %w", symbol, domain.ErrNotFound)
	}
	now := l.clock()
	p.GridTrades = make([]domain.GridTrade, len(plan))
	copy(p.GridTrades, plan)
	for i := range p.GridTrades {
		p.GridTrades[i].UpdatedAt = now
	}
	p.LastUpdate = now
	l.dirtyGrids[symbol] = struct{}{}
	return nil
}

// ActivateGridLevel moves a level PENDING → ACTIVE. It returns false when
// the level is not pending, so each transition is claimed exactly once.
func (l *Ledger) ActivateGridLevel(symbol string, level int) (bool, error) {
	return l.transitionGrid(symbol, level, domain.GridPending, domain.GridActive, "")
}

// AttachGridOrder records the broker order id on an ACTIVE level.
func (l *Ledger) AttachGridOrder(symbol string, level int, orderID string) (bool, error) {
	return l.transitionGrid(symbol, level, domain.GridActive, domain.GridActive, orderID)
}

// CompleteGridLevel moves a level ACTIVE → COMPLETED after its fill.
func (l *Ledger) CompleteGridLevel(symbol string, level int) (bool, error) {
	return l.transitionGrid(symbol, level, domain.GridActive, domain.GridCompleted, "")
}

// RevertGridLevel moves a level ACTIVE → PENDING after a failed or
// cancelled order, making it eligible again.
func (l *Ledger) RevertGridLevel(symbol string, level int) (bool, error) {
	return l.transitionGrid(symbol, level, domain.GridActive, domain.GridPending, "")
}

func (l *Ledger) transitionGrid(symbol string, level int, from, to domain.GridStatus, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return false, fmt.Errorf("ledger: grid %s level %d: %w", symbol, level, domain.ErrNotFound)
	}
	for i := range p.GridTrades {
		gt := &p.GridTrades[i]
		if gt.Level != level {
			continue
		}
		if gt.Status != from {
			return false, nil
		}
		now := l.clock()
		gt.Status = to
		switch {
		case orderID != "":
			gt.OrderID = orderID
		case to == domain.GridPending:
			gt.OrderID = ""
		}
		gt.UpdatedAt = now
		p.LastUpdate = now
		l.dirtyGrids[symbol] = struct{}{}
		return true, nil
	}
	return false, fmt.Errorf("ledger: grid %s level %d: %w", symbol, level, domain.ErrNotFound)
}
