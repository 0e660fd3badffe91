package longport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

type fakeAPI struct {
	quotes   []*quote.SecurityQuote
	quoteErr error
	depth    *quote.SecurityDepth
	depthErr error
}

func (f *fakeAPI) Quote(context.Context, []string) ([]*quote.SecurityQuote, error) {
	return f.quotes, f.quoteErr
}

func (f *fakeAPI) Depth(context.Context, string) (*quote.SecurityDepth, error) {
	return f.depth, f.depthErr
}

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLatestQuoteConverts(t *testing.T) {
	api := &fakeAPI{
		quotes: []*quote.SecurityQuote{{
			Symbol:    "600000.SH",
			LastDone:  dec(10.5),
			Open:      dec(10.3),
			High:      dec(10.8),
			Low:       dec(10.2),
			PrevClose: dec(10.0),
			Timestamp: 1792368000,
		}},
		depth: &quote.SecurityDepth{
			Symbol: "600000.SH",
			Bid: []*quote.Depth{
				{Position: 1, Price: dec(10.49), Volume: 100},
				{Position: 2, Price: dec(10.48), Volume: 200},
				{Position: 3, Price: dec(10.47), Volume: 300},
			},
		},
	}
	s := newSource(api, true, discard())

	q, err := s.LatestQuote(context.Background(), "600000.SH")
	if err != nil {
		t.Fatalf("LatestQuote: %v", err)
	}
	if q.LastPrice != 10.5 || q.Open != 10.3 || q.High != 10.8 || q.PrevClose != 10 {
		t.Errorf("quote = %+v", q)
	}
	if q.LimitUp != 11 {
		t.Errorf("limit up = %v, want 11", q.LimitUp)
	}
	if q.SellPrice(3) != 10.47 {
		t.Errorf("bid 3 = %v, want 10.47", q.SellPrice(3))
	}
}

func TestLatestQuoteDepthFailureKeepsQuote(t *testing.T) {
	api := &fakeAPI{
		quotes:   []*quote.SecurityQuote{{Symbol: "000001.SZ", LastDone: dec(12), PrevClose: dec(11.9)}},
		depthErr: errors.New("depth down"),
	}
	q, err := newSource(api, true, discard()).LatestQuote(context.Background(), "000001.SZ")
	if err != nil {
		t.Fatalf("LatestQuote: %v", err)
	}
	if len(q.Bids) != 0 || q.SellPrice(3) != 12 {
		t.Errorf("quote = %+v, want last price fallback", q)
	}
}

func TestLatestQuoteUnavailable(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
	}{
		{"missing symbol", &fakeAPI{quotes: []*quote.SecurityQuote{{Symbol: "other", LastDone: dec(1)}}}},
		{"no last price", &fakeAPI{quotes: []*quote.SecurityQuote{{Symbol: "600000.SH"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSource(tt.api, false, discard()).LatestQuote(context.Background(), "600000.SH")
			if !errors.Is(err, domain.ErrQuoteUnavailable) {
				t.Errorf("err = %v, want ErrQuoteUnavailable", err)
			}
		})
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{AppKey: "k"}, discard()); err == nil {
		t.Fatal("expected error")
	}
}
