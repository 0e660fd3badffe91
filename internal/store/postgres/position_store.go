package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// PositionStore implements domain.PositionStore. It only holds the fields
// the broker cannot report: open date, take-profit flag, peak price and
// stop price.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// UpsertPosition inserts or replaces the durable row of one symbol.
func (s *PositionStore) UpsertPosition(ctx context.Context, pos domain.DurablePosition) error {
	const query = `
		INSERT INTO positions (symbol, open_date, profit_triggered, highest_price, stop_loss_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			open_date        = EXCLUDED.open_date,
			profit_triggered = EXCLUDED.profit_triggered,
			highest_price    = EXCLUDED.highest_price,
			stop_loss_price  = EXCLUDED.stop_loss_price,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		pos.Symbol, pos.OpenDate, pos.ProfitTriggered, pos.HighestPrice, pos.StopLossPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

// DeletePosition removes the row of a closed position. Deleting a missing
// row is not an error.
func (s *PositionStore) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", symbol, err)
	}
	return nil
}

// ListPositions returns every stored row ordered by symbol.
func (s *PositionStore) ListPositions(ctx context.Context) ([]domain.DurablePosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, open_date, profit_triggered, highest_price, stop_loss_price, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.DurablePosition
	for rows.Next() {
		var d domain.DurablePosition
		if err := rows.Scan(&d.Symbol, &d.OpenDate, &d.ProfitTriggered, &d.HighestPrice, &d.StopLossPrice, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}
