// Package longport reads A-share quotes and order-book depth from the
// LongPort OpenAPI.
package longport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// Config holds the OpenAPI credentials.
type Config struct {
	AppKey      string
	AppSecret   string
	AccessToken string
	// Depth also fetches the bid side of the book for sell pricing.
	Depth bool
}

// quoteAPI is the part of quote.QuoteContext the source uses.
type quoteAPI interface {
	Quote(ctx context.Context, symbols []string) ([]*quote.SecurityQuote, error)
	Depth(ctx context.Context, symbol string) (*quote.SecurityDepth, error)
}

// Source implements domain.QuoteSource over a LongPort quote context.
type Source struct {
	api    quoteAPI
	closer func() error
	depth  bool
	logger *slog.Logger
}

var _ domain.QuoteSource = (*Source)(nil)

// New opens a quote context with the given credentials.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, errors.New("longport: credentials not configured")
	}
	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("longport: config: %w", err)
	}
	qc, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, fmt.Errorf("longport: open quote context: %w", err)
	}
	s := newSource(qc, cfg.Depth, logger)
	s.closer = qc.Close
	return s, nil
}

func newSource(api quoteAPI, depth bool, logger *slog.Logger) *Source {
	return &Source{
		api:    api,
		depth:  depth,
		logger: logger.With(slog.String("component", "longport")),
	}
}

// Close releases the quote connection.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// LatestPrice returns the last traded price.
func (s *Source) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := s.LatestQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.LastPrice, nil
}

// LatestQuote returns the last price, the session OHLC, prior close and,
// when enabled, the bid ladder. A depth failure is logged and the quote is
// returned without bids.
func (s *Source) LatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	rows, err := s.api.Quote(ctx, []string{symbol})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("longport: quote %s: %w", symbol, err)
	}
	var sq *quote.SecurityQuote
	for _, r := range rows {
		if r != nil && r.Symbol == symbol {
			sq = r
			break
		}
	}
	if sq == nil {
		return domain.Quote{}, fmt.Errorf("longport: quote %s: %w", symbol, domain.ErrQuoteUnavailable)
	}

	q := convertQuote(sq)
	if q.LastPrice <= 0 {
		return domain.Quote{}, fmt.Errorf("longport: quote %s has no last price: %w", symbol, domain.ErrQuoteUnavailable)
	}

	if s.depth {
		d, err := s.api.Depth(ctx, symbol)
		if err != nil {
			s.logger.WarnContext(ctx, "longport: depth failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		} else {
			q.Bids = convertBids(d)
		}
	}
	return q, nil
}

func convertQuote(sq *quote.SecurityQuote) domain.Quote {
	q := domain.Quote{
		Symbol:    sq.Symbol,
		LastPrice: toFloat(sq.LastDone),
		Open:      toFloat(sq.Open),
		High:      toFloat(sq.High),
		Low:       toFloat(sq.Low),
		PrevClose: toFloat(sq.PrevClose),
		Timestamp: time.Unix(sq.Timestamp, 0),
	}
	if sq.Timestamp == 0 {
		q.Timestamp = time.Now()
	}
	q.LimitUp = domain.LimitUpPrice(q.Symbol, q.PrevClose)
	return q
}

func convertBids(d *quote.SecurityDepth) []domain.DepthLevel {
	if d == nil {
		return nil
	}
	out := make([]domain.DepthLevel, 0, len(d.Bid))
	for _, b := range d.Bid {
		if b == nil {
			continue
		}
		out = append(out, domain.DepthLevel{Price: toFloat(b.Price), Volume: b.Volume})
	}
	return out
}

func toFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
