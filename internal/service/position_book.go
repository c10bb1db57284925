package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// PositionBook is the keyed store of slot state, status records and pending
// client requests. Slot state and records sit behind separate mutexes so a
// publish never waits on the reconciler. LockSlot serializes open attempts
// per slot.
type PositionBook struct {
	mu     sync.Mutex
	states map[domain.PositionKey]domain.PositionState
	claims map[domain.PositionKey]*sync.Mutex

	recMu   sync.Mutex
	records map[domain.PositionKey]domain.OrderStatusRecord
	handles map[domain.PositionKey]string
	pending map[string]domain.PendingRequest

	snapshots domain.PositionSnapshotStore
	logger    *slog.Logger
}

// NewPositionBook creates an empty book. snapshots may be nil.
func NewPositionBook(snapshots domain.PositionSnapshotStore, logger *slog.Logger) *PositionBook {
	return &PositionBook{
		states:    make(map[domain.PositionKey]domain.PositionState),
		claims:    make(map[domain.PositionKey]*sync.Mutex),
		records:   make(map[domain.PositionKey]domain.OrderStatusRecord),
		handles:   make(map[domain.PositionKey]string),
		pending:   make(map[string]domain.PendingRequest),
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "position_book")),
	}
}

// Restore loads persisted slot state. Loaded slots are tracked again but
// their records start fresh.
func (b *PositionBook) Restore(ctx context.Context) error {
	if b.snapshots == nil {
		return nil
	}
	all, err := b.snapshots.LoadAll(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	for key, st := range all {
		b.states[key] = st
	}
	b.mu.Unlock()
	b.logger.InfoContext(ctx, "position_book: restored", slog.Int("slots", len(all)))
	return nil
}

// ---------------------------------------------------------------------------
// Slot state
// ---------------------------------------------------------------------------

// LockSlot blocks until the caller owns the open attempt for key and returns
// the release function.
func (b *PositionBook) LockSlot(key domain.PositionKey) (unlock func()) {
	b.mu.Lock()
	m, ok := b.claims[key]
	if !ok {
		m = &sync.Mutex{}
		b.claims[key] = m
	}
	b.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Ensure creates the slot from the default template when it is missing and
// returns its state.
func (b *PositionBook) Ensure(key domain.PositionKey) domain.PositionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	if !ok {
		st = domain.DefaultPositionState()
		b.states[key] = st
	}
	return st
}

// State returns a copy of the slot state.
func (b *PositionBook) State(key domain.PositionKey) (domain.PositionState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	return st, ok
}

// Update applies fn to the slot state, creating the slot if needed, and
// persists the result.
func (b *PositionBook) Update(ctx context.Context, key domain.PositionKey, fn func(*domain.PositionState)) domain.PositionState {
	b.mu.Lock()
	st, ok := b.states[key]
	if !ok {
		st = domain.DefaultPositionState()
	}
	fn(&st)
	b.states[key] = st
	b.mu.Unlock()

	b.persist(ctx, key, st)
	return st
}

// Transition applies fn to the live state of key and returns the state
// before and after it. Nothing is persisted when fn changes nothing.
func (b *PositionBook) Transition(ctx context.Context, key domain.PositionKey, fn func(*domain.PositionState)) (before, after domain.PositionState) {
	b.mu.Lock()
	st, ok := b.states[key]
	if !ok {
		st = domain.DefaultPositionState()
	}
	before = st
	fn(&st)
	b.states[key] = st
	b.mu.Unlock()

	if st != before {
		b.persist(ctx, key, st)
	}
	return before, st
}

// Reset puts the slot back to the default template. The slot stays tracked.
func (b *PositionBook) Reset(ctx context.Context, key domain.PositionKey) {
	b.mu.Lock()
	b.states[key] = domain.DefaultPositionState()
	b.mu.Unlock()

	b.recMu.Lock()
	for id, req := range b.pending {
		if req.Key == key {
			delete(b.pending, id)
		}
	}
	b.recMu.Unlock()

	if b.snapshots != nil {
		if err := b.snapshots.Delete(ctx, key); err != nil {
			b.logger.WarnContext(ctx, "position_book: snapshot delete failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Keys returns the tracked slots in a stable order.
func (b *PositionBook) Keys() []domain.PositionKey {
	b.mu.Lock()
	out := make([]domain.PositionKey, 0, len(b.states))
	for k := range b.states {
		out = append(out, k)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Symbols returns the distinct symbols of the tracked slots.
func (b *PositionBook) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range b.Keys() {
		if _, ok := seen[k.Symbol]; ok {
			continue
		}
		seen[k.Symbol] = struct{}{}
		out = append(out, k.Symbol)
	}
	return out
}

// Snapshot copies every slot state.
func (b *PositionBook) Snapshot() map[domain.PositionKey]domain.PositionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[domain.PositionKey]domain.PositionState, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// OpenCount returns the number of slots currently in a position.
func (b *PositionBook) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, st := range b.states {
		if st.InPosition {
			n++
		}
	}
	return n
}

func (b *PositionBook) persist(ctx context.Context, key domain.PositionKey, st domain.PositionState) {
	if b.snapshots == nil {
		return
	}
	if err := b.snapshots.Save(ctx, key, st); err != nil {
		b.logger.WarnContext(ctx, "position_book: snapshot save failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Status records
// ---------------------------------------------------------------------------

// SetRecord replaces the status record of key. The message handle is kept.
func (b *PositionBook) SetRecord(key domain.PositionKey, rec domain.OrderStatusRecord) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	b.records[key] = rec
}

// MutateRecord applies fn to the record of key, starting from a fresh
// record when the slot has none.
func (b *PositionBook) MutateRecord(key domain.PositionKey, fn func(*domain.OrderStatusRecord)) domain.OrderStatusRecord {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		rec = domain.NewStatusRecord(key)
	}
	fn(&rec)
	b.records[key] = rec
	return rec
}

// UpdateRecord applies fn to the record of key. It reports false when the
// slot has no record.
func (b *PositionBook) UpdateRecord(key domain.PositionKey, fn func(*domain.OrderStatusRecord)) (domain.OrderStatusRecord, bool) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return domain.OrderStatusRecord{}, false
	}
	fn(&rec)
	b.records[key] = rec
	return rec, true
}

// Record returns the record of key together with its message handle.
func (b *PositionBook) Record(key domain.PositionKey) (domain.OrderStatusRecord, string, bool) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	rec, ok := b.records[key]
	return rec, b.handles[key], ok
}

// SetHandle stores the message anchor of key's status.
func (b *PositionBook) SetHandle(key domain.PositionKey, handle string) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	b.handles[key] = handle
}

// DeleteRecord drops the record and its message handle.
func (b *PositionBook) DeleteRecord(key domain.PositionKey) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	delete(b.records, key)
	delete(b.handles, key)
}

// Records copies every status record.
func (b *PositionBook) Records() map[domain.PositionKey]domain.OrderStatusRecord {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	out := make(map[domain.PositionKey]domain.OrderStatusRecord, len(b.records))
	for k, v := range b.records {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Pending requests
// ---------------------------------------------------------------------------

// PutPending stores or replaces the request of req.ClientID.
func (b *PositionBook) PutPending(req domain.PendingRequest) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	b.pending[req.ClientID] = req
}

// Pending returns the request of clientID.
func (b *PositionBook) Pending(clientID string) (domain.PendingRequest, bool) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	req, ok := b.pending[clientID]
	return req, ok
}
