package domain

import "time"

// SignalPriority orders signals for dispatch within one cycle. Higher
// values are dispatched first.
type SignalPriority int

const (
	PriorityLow SignalPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Reason tags describing why a signal was emitted.
const (
	ReasonHardStopLoss    = "hard_stop_loss"
	ReasonFirstTakeProfit = "first_take_profit"
	ReasonDynamicStop     = "dynamic_stop"
	ReasonGridBuy         = "grid_buy"
	ReasonGridSell        = "grid_sell"
	ReasonManual          = "manual"
	ReasonOrderTimeout    = "order_timeout"
)

// Redis channels and streams shared by publishers and the websocket hub.
const (
	ChannelSignals   = "qmtbot:signals"
	ChannelPositions = "qmtbot:positions"
	ChannelOrders    = "qmtbot:orders"
	ChannelCommands  = "qmtbot:commands"
	StreamSignals    = "qmtbot:stream:signals"
)

// Signal is the evaluator output consumed by the dispatcher.
type Signal struct {
	ID        string
	Symbol    string
	Direction Direction
	Quantity  int64
	Price     float64 // price hint; 0 lets the executor pick from the book
	Reason    string
	Priority  SignalPriority
	Source    string // "risk", "grid", "sellrule", "operator"
	// GridLevel is set for grid signals; zero otherwise.
	GridLevel int
	// CancelOrderID is set when the signal replaces an outstanding order.
	CancelOrderID string
	// FullExit marks a liquidation of the whole available quantity.
	FullExit  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the signal is past its deadline at now.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Command is an operator instruction delivered over the command channel.
type Command struct {
	Action string `json:"action"` // "sell", "reset_state", "reset_rules"
	Symbol string `json:"symbol"`
}
