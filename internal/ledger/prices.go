package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// RefreshResult carries the quotes fetched by RefreshPrices, so evaluators
// can reuse them, and the per-symbol failures.
type RefreshResult struct {
	Quotes map[string]domain.Quote
	Failed map[string]error
}

// RefreshPrices fetches a quote for every held symbol, at most
// QuoteConcurrency at a time and each under QuoteTimeout, then recomputes
// the derived fields. A symbol whose quote fails keeps its previous price;
// the others are updated regardless.
func (l *Ledger) RefreshPrices(ctx context.Context, src domain.QuoteSource) RefreshResult {
	symbols := l.Symbols()
	res := RefreshResult{
		Quotes: make(map[string]domain.Quote, len(symbols)),
		Failed: make(map[string]error),
	}
	if len(symbols) == 0 {
		return res
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.QuoteConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, l.cfg.QuoteTimeout)
			defer cancel()
			q, err := src.LatestQuote(qctx, sym)
			if err == nil && q.LastPrice <= 0 {
				err = fmt.Errorf("non-positive price %v: %w", q.LastPrice, domain.ErrQuoteUnavailable)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[sym] = err
				return nil
			}
			res.Quotes[sym] = q
			return nil
		})
	}
	_ = g.Wait()

	for sym, err := range res.Failed {
		l.logger.Warn("ledger: price refresh failed",
			slog.String("symbol", sym),
			slog.String("error", err.Error()),
		)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for sym, q := range res.Quotes {
		p, ok := l.positions[sym]
		if !ok {
			continue
		}
		l.applyPriceLocked(p, q.LastPrice)
		p.LastUpdate = now
	}
	return res
}

// applyPriceLocked recomputes the price-derived fields and lifts the peak.
// The stop is recomputed only when the peak moves.
func (l *Ledger) applyPriceLocked(p *domain.PositionState, price float64) {
	p.CurrentPrice = price
	p.MarketValue = float64(p.Quantity) * price
	if p.CostPrice > 0 {
		p.ProfitRatio = (price - p.CostPrice) / p.CostPrice
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
		l.recomputeStopLocked(p)
	}
}
