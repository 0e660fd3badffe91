package domain

import "time"

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price  float64
	Volume int64
}

// Quote is the latest market view for one symbol: last price, the
// session's OHLC so far, the prior close, the limit-up price and the bid
// side of the book (best first).
type Quote struct {
	Symbol    string
	LastPrice float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	LimitUp   float64
	Bids      []DepthLevel
	Timestamp time.Time
}

// BidPrice returns the price at a 1-based bid level, or 0 when that level
// is absent.
func (q Quote) BidPrice(level int) float64 {
	if level < 1 || level > len(q.Bids) {
		return 0
	}
	return q.Bids[level-1].Price
}

// SellPrice picks the price for an aggressive sell: the configured bid
// level, else the first non-zero bid, else the last price.
func (q Quote) SellPrice(level int) float64 {
	if p := q.BidPrice(level); p > 0 {
		return p
	}
	for _, b := range q.Bids {
		if b.Price > 0 {
			return b.Price
		}
	}
	return q.LastPrice
}
