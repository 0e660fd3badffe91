package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache. Each symbol is a hash at
// "qmtbot:quote:{symbol}" holding the last price, its timestamp and the
// full quote as JSON. Entries never expire: after the close the cached
// quote is the last settled price.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by c.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return key("quote", symbol)
}

// SetQuote stores q as the latest quote of its symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	if q.Symbol == "" || q.LastPrice <= 0 {
		return fmt.Errorf("redis: set quote %q: %w", q.Symbol, domain.ErrQuoteUnavailable)
	}
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", q.Symbol, err)
	}
	fields := map[string]any{
		"price": strconv.FormatFloat(q.LastPrice, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
		"quote": body,
	}
	if err := qc.rdb.HSet(ctx, quoteKey(q.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	raw, err := qc.rdb.HGet(ctx, quoteKey(symbol), "quote").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	var q domain.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: decode quote %s: %w", symbol, err)
	}
	return q, nil
}

// GetPrices reads the last price of many symbols in one pipeline. Symbols
// without a cached quote are omitted.
func (qc *QuoteCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGet(ctx, quoteKey(sym), "price")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for sym, cmd := range cmds {
		price, err := cmd.Float64()
		if err != nil || price <= 0 {
			continue
		}
		out[sym] = price
	}
	return out, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
