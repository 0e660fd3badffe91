package domain

import "time"

// TradeRecord is an append-only history row for a confirmed fill.
type TradeRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Price      float64   `json:"price"`
	Quantity   int64     `json:"quantity"`
	Amount     float64   `json:"amount"`
	OrderID    string    `json:"order_id"`
	Strategy   string    `json:"strategy"`
	Commission float64   `json:"commission"`
	TradedAt   time.Time `json:"traded_at"`
}

// TradeSummary totals one trading day.
type TradeSummary struct {
	Day        string  `json:"day"`
	Trades     int     `json:"trades"`
	BuyAmount  float64 `json:"buy_amount"`
	SellAmount float64 `json:"sell_amount"`
	Commission float64 `json:"commission"`
}
