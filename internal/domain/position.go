package domain

import "time"

// Direction is the side of a trade or signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// GridStatus is the lifecycle state of one grid level.
type GridStatus string

const (
	GridPending   GridStatus = "PENDING"
	GridActive    GridStatus = "ACTIVE"
	GridCompleted GridStatus = "COMPLETED"
)

// GridTrade is one rung of a grid ladder. Negative levels sit below the
// anchor (BUY), positive levels above it (SELL).
type GridTrade struct {
	Level       int        `json:"level"`
	Direction   Direction  `json:"direction"`
	TargetPrice float64    `json:"target_price"`
	Quantity    int64      `json:"quantity"`
	Status      GridStatus `json:"status"`
	OrderID     string     `json:"order_id,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PositionState is the live, in-memory record for one held symbol.
// Quantity, AvailableQuantity and CostPrice come from the broker; the
// durable fields (OpenDate, ProfitTriggered, HighestPrice, StopLossPrice)
// are owned by the ledger.
type PositionState struct {
	Symbol            string      `json:"symbol"`
	Name              string      `json:"name"`
	Quantity          int64       `json:"quantity"`
	AvailableQuantity int64       `json:"available_quantity"`
	CostPrice         float64     `json:"cost_price"`
	CurrentPrice      float64     `json:"current_price"`
	MarketValue       float64     `json:"market_value"`
	ProfitRatio       float64     `json:"profit_ratio"`
	HighestPrice      float64     `json:"highest_price"`
	OpenDate          time.Time   `json:"open_date"`
	ProfitTriggered   bool        `json:"profit_triggered"`
	StopLossPrice     float64     `json:"stop_loss_price"`
	GridTrades        []GridTrade `json:"grid_trades,omitempty"`
	LastUpdate        time.Time   `json:"last_update"`
}

// Clone returns a deep copy, safe to hand to evaluators.
func (p PositionState) Clone() PositionState {
	out := p
	if p.GridTrades != nil {
		out.GridTrades = make([]GridTrade, len(p.GridTrades))
		copy(out.GridTrades, p.GridTrades)
	}
	return out
}

// Priced reports whether the position has received at least one price.
func (p PositionState) Priced() bool {
	return p.CurrentPrice > 0
}

// PeakGainRatio is (highest − cost) / cost, or 0 when cost is unknown.
func (p PositionState) PeakGainRatio() float64 {
	if p.CostPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - p.CostPrice) / p.CostPrice
}

// Durable extracts the fields that must survive a restart.
func (p PositionState) Durable() DurablePosition {
	return DurablePosition{
		Symbol:          p.Symbol,
		OpenDate:        p.OpenDate,
		ProfitTriggered: p.ProfitTriggered,
		HighestPrice:    p.HighestPrice,
		StopLossPrice:   p.StopLossPrice,
	}
}

// DurablePosition is the persisted subset of PositionState.
type DurablePosition struct {
	Symbol          string
	OpenDate        time.Time
	ProfitTriggered bool
	HighestPrice    float64
	StopLossPrice   float64
	UpdatedAt       time.Time
}

// SameAs compares the persisted fields, ignoring UpdatedAt.
func (d DurablePosition) SameAs(o DurablePosition) bool {
	return d.Symbol == o.Symbol &&
		d.OpenDate.Equal(o.OpenDate) &&
		d.ProfitTriggered == o.ProfitTriggered &&
		d.HighestPrice == o.HighestPrice &&
		d.StopLossPrice == o.StopLossPrice
}

// BrokerPosition is one row of the broker's holdings snapshot.
type BrokerPosition struct {
	Symbol            string
	Name              string
	Quantity          int64
	AvailableQuantity int64
	CostPrice         float64
}
