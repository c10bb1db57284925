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

// PositionSnapshotStore persists the local slot mirror so a restart keeps
// order ids and open times.
type PositionSnapshotStore interface {
	Save(ctx context.Context, key PositionKey, state PositionState) error
	Delete(ctx context.Context, key PositionKey) error
	LoadAll(ctx context.Context) (map[PositionKey]PositionState, error)
}

// StatusStore keeps the history of published status records.
type StatusStore interface {
	Append(ctx context.Context, key PositionKey, rec OrderStatusRecord) error
	ListByKey(ctx context.Context, key PositionKey, opts ListOpts) ([]OrderStatusRecord, error)
}

// TradeJournal persists finalized trades.
type TradeJournal interface {
	Record(ctx context.Context, trade ClosedTrade) error
	List(ctx context.Context, opts ListOpts) ([]ClosedTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore records an append-only event log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
