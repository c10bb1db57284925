package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// TradeStore implements domain.TradeJournal on the closed_trades table.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `id, symbol, side, settings_tag, leverage, entry_price, contracts,
	margin_volume, exit_status, pnl, roi, pnl_text, opened_at, closed_at`

// Record inserts a finalized trade. A trade without an id gets a fresh one;
// re-recording an existing id is a no-op.
func (s *TradeStore) Record(ctx context.Context, t domain.ClosedTrade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var openedAt *time.Time
	if !t.OpenedAt.IsZero() {
		openedAt = &t.OpenedAt
	}
	query := `INSERT INTO closed_trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Key.Symbol, string(t.Key.Side), t.SettingsTag, t.Leverage,
		t.EntryPrice, t.Contracts, t.MarginVolume, t.ExitStatus,
		t.PnL, t.ROI, t.PnLText, openedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.Key, err)
	}
	return nil
}

// List returns trades by close time, newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query, args := listQuery(`SELECT `+tradeColumns+` FROM closed_trades WHERE TRUE`, nil, "closed_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return out, nil
}

// DeleteBefore removes trades closed before the cutoff and reports how many
// rows went away.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM closed_trades WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanTrade(row pgx.Row) (domain.ClosedTrade, error) {
	var (
		t        domain.ClosedTrade
		id       uuid.UUID
		side     string
		openedAt *time.Time
	)
	err := row.Scan(
		&id, &t.Key.Symbol, &side, &t.SettingsTag, &t.Leverage,
		&t.EntryPrice, &t.Contracts, &t.MarginVolume, &t.ExitStatus,
		&t.PnL, &t.ROI, &t.PnLText, &openedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.ClosedTrade{}, fmt.Errorf("postgres: scan trade: %w", err)
	}
	t.ID = id.String()
	t.Key.Side = domain.Side(side)
	if openedAt != nil {
		t.OpenedAt = *openedAt
	}
	return t, nil
}

var _ domain.TradeJournal = (*TradeStore)(nil)
