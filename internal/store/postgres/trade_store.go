package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// TradeStore implements domain.TradeStore. Rows are append-only.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, direction, price, quantity, amount,
	order_id, strategy, commission, traded_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var direction string
		if err := rows.Scan(
			&t.ID, &t.Symbol, &direction, &t.Price, &t.Quantity, &t.Amount,
			&t.OrderID, &t.Strategy, &t.Commission, &t.TradedAt,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendTradeRecord inserts one fill.
func (s *TradeStore) AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	tradedAt := rec.TradedAt
	if tradedAt.IsZero() {
		tradedAt = time.Now()
	}
	const query = `
		INSERT INTO trade_records (symbol, direction, price, quantity, amount, order_id, strategy, commission, traded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		rec.Symbol, string(rec.Direction), rec.Price, rec.Quantity, rec.Amount,
		rec.OrderID, rec.Strategy, rec.Commission, tradedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s %s: %w", rec.Symbol, rec.OrderID, err)
	}
	return nil
}

// ListBySymbol returns a symbol's trades, newest first, with optional time
// bounds and pagination.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_records WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND traded_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND traded_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY traded_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", symbol, err)
	}
	return out, nil
}

// ListBetween returns trades in [from, to) oldest first, for archiving.
func (s *TradeStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records WHERE traded_at >= $1 AND traded_at < $2 ORDER BY traded_at ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades between: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades between: %w", err)
	}
	return out, nil
}
