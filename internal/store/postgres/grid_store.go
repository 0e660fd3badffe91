package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// GridStore implements domain.GridStore.
type GridStore struct {
	pool *pgxpool.Pool
}

// NewGridStore creates a GridStore backed by pool.
func NewGridStore(pool *pgxpool.Pool) *GridStore {
	return &GridStore{pool: pool}
}

// UpsertGridTrade writes one level, keyed by (symbol, level).
func (s *GridStore) UpsertGridTrade(ctx context.Context, symbol string, gt domain.GridTrade) error {
	const query = `
		INSERT INTO grid_trades (symbol, level, direction, target_price, quantity, status, order_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (symbol, level) DO UPDATE SET
			direction    = EXCLUDED.direction,
			target_price = EXCLUDED.target_price,
			quantity     = EXCLUDED.quantity,
			status       = EXCLUDED.status,
			order_id     = EXCLUDED.order_id,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		symbol, gt.Level, string(gt.Direction), gt.TargetPrice, gt.Quantity, string(gt.Status), gt.OrderID,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert grid %s level %d: %w", symbol, gt.Level, err)
	}
	return nil
}

// ListGridTrades returns a symbol's ladder ordered from the lowest level.
func (s *GridStore) ListGridTrades(ctx context.Context, symbol string) ([]domain.GridTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT level, direction, target_price, quantity, status, order_id, updated_at
		FROM grid_trades WHERE symbol = $1 ORDER BY level`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list grid %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.GridTrade
	for rows.Next() {
		var gt domain.GridTrade
		var direction, status string
		if err := rows.Scan(&gt.Level, &direction, &gt.TargetPrice, &gt.Quantity, &status, &gt.OrderID, &gt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan grid %s: %w", symbol, err)
		}
		gt.Direction = domain.Direction(direction)
		gt.Status = domain.GridStatus(status)
		out = append(out, gt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list grid %s rows: %w", symbol, err)
	}
	return out, nil
}

// DeleteGridTrades drops a symbol's ladder.
func (s *GridStore) DeleteGridTrades(ctx context.Context, symbol string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM grid_trades WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("postgres: delete grid %s: %w", symbol, err)
	}
	return nil
}
