package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// AuditStore is the append-only audit_log table. Order submissions,
// cancels, state resets, operator commands and archive runs land here.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an event. A string "symbol" key in detail is copied into
// its own indexed column.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal: %w", event, err)
	}
	symbol, _ := detail["symbol"].(string)

	const q = `INSERT INTO audit_log (event, symbol, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, event, symbol, payload); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// ListBetween returns the entries created in [from, to), oldest first.
func (s *AuditStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	const q = `
		SELECT id, event, symbol, detail, created_at
		FROM audit_log
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Symbol, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: audit %d detail: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
