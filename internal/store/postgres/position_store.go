package postgres

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// PositionSnapshotStore implements domain.PositionSnapshotStore. Each slot is
// one row keyed by (symbol, side) with the state as JSONB.
type PositionSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPositionSnapshotStore creates a new PositionSnapshotStore.
func NewPositionSnapshotStore(pool *pgxpool.Pool) *PositionSnapshotStore {
	return &PositionSnapshotStore{pool: pool}
}

// Save upserts the state of one slot.
func (s *PositionSnapshotStore) Save(ctx context.Context, key domain.PositionKey, state domain.PositionState) error {
	data, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", key, err)
	}
	const query = `
		INSERT INTO position_snapshots (symbol, side, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol, side) DO UPDATE SET
			state      = EXCLUDED.state,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, key.Symbol, string(key.Side), data); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes the row of one slot. Missing rows are not an error.
func (s *PositionSnapshotStore) Delete(ctx context.Context, key domain.PositionKey) error {
	const query = `DELETE FROM position_snapshots WHERE symbol = $1 AND side = $2`
	if _, err := s.pool.Exec(ctx, query, key.Symbol, string(key.Side)); err != nil {
		return fmt.Errorf("postgres: delete snapshot %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every stored slot. Rows with an unknown side are skipped.
func (s *PositionSnapshotStore) LoadAll(ctx context.Context) (map[domain.PositionKey]domain.PositionState, error) {
	const query = `SELECT symbol, side, state FROM position_snapshots`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.PositionKey]domain.PositionState)
	for rows.Next() {
		var (
			symbol, side string
			data         []byte
		)
		if err := rows.Scan(&symbol, &side, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		sd, err := domain.ParseSide(side)
		if err != nil {
			continue
		}
		var st domain.PositionState
		if err := sonic.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("postgres: decode snapshot %s %s: %w", symbol, side, err)
		}
		out[domain.PositionKey{Symbol: symbol, Side: sd}] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate snapshots: %w", err)
	}
	return out, nil
}

var _ domain.PositionSnapshotStore = (*PositionSnapshotStore)(nil)
