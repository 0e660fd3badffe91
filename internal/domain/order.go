package domain

import "time"

// OrderType selects how the broker prices an order.
type OrderType string

const (
	OrderTypeLimit          OrderType = "limit"
	OrderTypeMarketAdjusted OrderType = "market_adjusted"
)

// OrderStatus is the broker-side state of a submitted order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// IsTerminal returns true when the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest is what the executor hands to the broker.
type OrderRequest struct {
	Symbol    string
	Direction Direction
	Quantity  int64
	Price     float64
	Type      OrderType
	Strategy  string
}

// OrderReport is the broker's view of one order.
type OrderReport struct {
	OrderID        string
	Symbol         string
	Direction      Direction
	Quantity       int64
	FilledQuantity int64
	AvgPrice       float64
	Status         OrderStatus
	UpdatedAt      time.Time
}
