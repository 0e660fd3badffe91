package domain

import "context"

// BrokerGateway is the authoritative source of holdings and the order
// submission interface.
type BrokerGateway interface {
	Positions(ctx context.Context) ([]BrokerPosition, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	Order(ctx context.Context, orderID string) (OrderReport, error)
}

// QuoteSource supplies the latest price for a symbol: a live tick during
// trading hours, otherwise the last settled price.
type QuoteSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	LatestQuote(ctx context.Context, symbol string) (Quote, error)
}
