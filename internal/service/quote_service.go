package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
)

// QuoteService implements domain.QuoteSource on top of a live feed and the
// quote cache. During trading hours the live feed wins and every good tick
// is written through to the cache; outside them, and whenever the feed
// fails, the cached quote (the last settled price) is served.
type QuoteService struct {
	live   domain.QuoteSource // may be nil
	cache  domain.QuoteCache  // may be nil
	clock  func() time.Time
	logger *slog.Logger
}

var _ domain.QuoteSource = (*QuoteService)(nil)

// NewQuoteService creates a QuoteService. Either backend may be nil, but
// not both.
func NewQuoteService(live domain.QuoteSource, cache domain.QuoteCache, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		live:   live,
		cache:  cache,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "quote_service")),
	}
}

// WithClock overrides the clock used to decide the session.
func (s *QuoteService) WithClock(clock func() time.Time) *QuoteService {
	s.clock = clock
	return s
}

// LatestPrice returns the last price of symbol.
func (s *QuoteService) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := s.LatestQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.LastPrice, nil
}

// LatestQuote returns the freshest quote available, or
// domain.ErrQuoteUnavailable when neither backend has one.
func (s *QuoteService) LatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if sellrule.InTradingHours(s.clock()) {
		q, liveErr := s.fromLive(ctx, symbol)
		if liveErr == nil {
			return q, nil
		}
		if q, err := s.fromCache(ctx, symbol); err == nil {
			s.logger.DebugContext(ctx, "quote_service: live quote failed, serving cached",
				slog.String("symbol", symbol),
				slog.String("error", liveErr.Error()),
			)
			return q, nil
		}
		return domain.Quote{}, fmt.Errorf("quote_service: %s: %w", symbol, errors.Join(domain.ErrQuoteUnavailable, liveErr))
	}

	if q, err := s.fromCache(ctx, symbol); err == nil {
		return q, nil
	}
	q, err := s.fromLive(ctx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: %s: %w", symbol, errors.Join(domain.ErrQuoteUnavailable, err))
	}
	return q, nil
}

func (s *QuoteService) fromLive(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.live == nil {
		return domain.Quote{}, errors.New("no live feed")
	}
	q, err := s.live.LatestQuote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.LastPrice <= 0 {
		return domain.Quote{}, fmt.Errorf("non-positive price %v", q.LastPrice)
	}
	if q.LimitUp <= 0 {
		q.LimitUp = domain.LimitUpPrice(symbol, q.PrevClose)
	}
	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, q); err != nil {
			s.logger.WarnContext(ctx, "quote_service: cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

func (s *QuoteService) fromCache(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.cache == nil {
		return domain.Quote{}, domain.ErrNotFound
	}
	q, err := s.cache.GetQuote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.LastPrice <= 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

// CachedPrices returns the last cached price of each symbol that has one.
func (s *QuoteService) CachedPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if s.cache == nil {
		return map[string]float64{}, nil
	}
	prices, err := s.cache.GetPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("quote_service: cached prices: %w", err)
	}
	return prices, nil
}
