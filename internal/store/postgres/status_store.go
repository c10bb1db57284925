package postgres

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// StatusStore implements domain.StatusStore on the status_history table.
type StatusStore struct {
	pool *pgxpool.Pool
}

// NewStatusStore creates a new StatusStore.
func NewStatusStore(pool *pgxpool.Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

// Append stores one published record.
func (s *StatusStore) Append(ctx context.Context, key domain.PositionKey, rec domain.OrderStatusRecord) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: marshal status %s: %w", key, err)
	}
	const query = `INSERT INTO status_history (symbol, side, record) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, key.Symbol, string(key.Side), data); err != nil {
		return fmt.Errorf("postgres: append status %s: %w", key, err)
	}
	return nil
}

// ListByKey returns the records of one slot, newest first.
func (s *StatusStore) ListByKey(ctx context.Context, key domain.PositionKey, opts domain.ListOpts) ([]domain.OrderStatusRecord, error) {
	query, args := listQuery(
		`SELECT record FROM status_history WHERE symbol = $1 AND side = $2`,
		[]any{key.Symbol, string(key.Side)}, "created_at", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list status %s: %w", key, err)
	}
	defer rows.Close()

	var out []domain.OrderStatusRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan status: %w", err)
		}
		var rec domain.OrderStatusRecord
		if err := sonic.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("postgres: decode status: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate status: %w", err)
	}
	return out, nil
}

var _ domain.StatusStore = (*StatusStore)(nil)
