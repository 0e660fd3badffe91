package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// FlushResult counts the store operations of one Flush.
type FlushResult struct {
	Upserts    int
	Deletes    int
	GridWrites int
	Deferred   bool // skipped because of backoff
}

// Flush writes durable fields that changed since the last successful write
// and applies pending deletions. Failed writes stay pending and further
// attempts back off exponentially. In-memory state is authoritative
// throughout, so a failing store never blocks evaluation.
func (l *Ledger) Flush(ctx context.Context) (FlushResult, error) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	now := l.clock()
	if now.Before(l.nextAttempt) {
		return FlushResult{Deferred: true}, nil
	}

	upserts, deletes, grids := l.collect(now)
	var (
		res  FlushResult
		errs []error
	)

	for _, d := range upserts {
		if err := l.store.UpsertPosition(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", d.Symbol, err))
			continue
		}
		res.Upserts++
		l.mu.Lock()
		l.persisted[d.Symbol] = d
		l.mu.Unlock()
	}

	for _, sym := range deletes {
		if err := l.store.DeletePosition(ctx, sym); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", sym, err))
			continue
		}
		if l.grids != nil {
			if err := l.grids.DeleteGridTrades(ctx, sym); err != nil {
				errs = append(errs, fmt.Errorf("delete grid %s: %w", sym, err))
				continue
			}
		}
		res.Deletes++
		l.mu.Lock()
		// A symbol re-opened while the delete was in flight stays live.
		if _, live := l.positions[sym]; !live {
			delete(l.persisted, sym)
		}
		delete(l.pendingDeletes, sym)
		l.mu.Unlock()
	}

	if l.grids != nil {
		for sym, gts := range grids {
			if err := l.writeGrid(ctx, sym, gts); err != nil {
				errs = append(errs, err)
				l.mu.Lock()
				l.dirtyGrids[sym] = struct{}{}
				l.mu.Unlock()
				continue
			}
			res.GridWrites++
		}
	}

	if len(errs) > 0 {
		l.failures++
		backoff := l.cfg.PersistBackoffBase << min(l.failures-1, 16)
		if backoff > l.cfg.PersistBackoffMax || backoff <= 0 {
			backoff = l.cfg.PersistBackoffMax
		}
		l.nextAttempt = now.Add(backoff)
		err := errors.Join(errs...)
		l.logger.Warn("ledger: persistence failed, will retry",
			slog.Int("failures", l.failures),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("ledger: flush: %w", err)
	}
	l.failures = 0
	l.nextAttempt = time.Time{}
	return res, nil
}

// collect gathers the pending work and clears the dirty grid set.
func (l *Ledger) collect(now time.Time) ([]domain.DurablePosition, []string, map[string][]domain.GridTrade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var upserts []domain.DurablePosition
	for sym, p := range l.positions {
		d := p.Durable()
		if prev, ok := l.persisted[sym]; ok && prev.SameAs(d) {
			continue
		}
		d.UpdatedAt = now
		upserts = append(upserts, d)
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].Symbol < upserts[j].Symbol })

	deletes := make([]string, 0, len(l.pendingDeletes))
	for sym := range l.pendingDeletes {
		deletes = append(deletes, sym)
	}
	sort.Strings(deletes)

	grids := make(map[string][]domain.GridTrade, len(l.dirtyGrids))
	for sym := range l.dirtyGrids {
		if p, ok := l.positions[sym]; ok {
			grids[sym] = p.Clone().GridTrades
		}
		delete(l.dirtyGrids, sym)
	}
	return upserts, deletes, grids
}

func (l *Ledger) writeGrid(ctx context.Context, symbol string, gts []domain.GridTrade) error {
	if err := l.grids.DeleteGridTrades(ctx, symbol); err != nil {
		return fmt.Errorf("reset grid %s: %w", symbol, err)
	}
	for _, gt := range gts {
		if err := l.grids.UpsertGridTrade(ctx, symbol, gt); err != nil {
			return fmt.Errorf("write grid %s level %d: %w", symbol, gt.Level, err)
		}
	}
	return nil
}
