package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the ledger-owned durable fields of positions.
type PositionStore interface {
	UpsertPosition(ctx context.Context, pos DurablePosition) error
	DeletePosition(ctx context.Context, symbol string) error
	ListPositions(ctx context.Context) ([]DurablePosition, error)
}

// TradeStore is the append-only trade history.
type TradeStore interface {
	AppendTradeRecord(ctx context.Context, rec TradeRecord) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
}

// GridStore persists grid ladders per symbol.
type GridStore interface {
	UpsertGridTrade(ctx context.Context, symbol string, gt GridTrade) error
	ListGridTrades(ctx context.Context, symbol string) ([]GridTrade, error)
	DeleteGridTrades(ctx context.Context, symbol string) error
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Symbol    string         `json:"symbol,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records an append-only log of significant events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
