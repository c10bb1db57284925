package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
)

// StatusPublisher delivers a status record to the user. handle is the
// message anchor of a previous delivery, empty for the first one; the
// returned handle replaces it.
type StatusPublisher interface {
	Publish(ctx context.Context, key domain.PositionKey, rec domain.OrderStatusRecord, handle string, buttons domain.ButtonState) (string, error)
}

// StatusEvent is the bus payload emitted for every published record.
type StatusEvent struct {
	Key     string                   `json:"key"`
	Record  domain.OrderStatusRecord `json:"record"`
	Buttons string                   `json:"buttons"`
}

// Reporter publishes the current record of a slot and fans it out to the
// history store and the status channel. Every dependency but the book is
// optional.
type Reporter struct {
	book      *PositionBook
	publisher StatusPublisher
	history   domain.StatusStore
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(book *PositionBook, publisher StatusPublisher, history domain.StatusStore, bus domain.SignalBus, logger *slog.Logger) *Reporter {
	return &Reporter{
		book:      book,
		publisher: publisher,
		history:   history,
		bus:       bus,
		logger:    logger.With(slog.String("component", "reporter")),
	}
}

// Publish sends the record of key with the given button state. Delivery
// failures are logged; the engine never blocks on the user channel.
func (r *Reporter) Publish(ctx context.Context, key domain.PositionKey, buttons domain.ButtonState) {
	r.book.UpdateRecord(key, func(rec *domain.OrderStatusRecord) {
		rec.UpdatedAt = time.Now().UnixMilli()
	})
	rec, handle, ok := r.book.Record(key)
	if !ok {
		return
	}

	if r.publisher != nil {
		next, err := r.publisher.Publish(ctx, key, rec, handle, buttons)
		if err != nil {
			metrics.IncNotification("error")
			r.logger.WarnContext(ctx, "reporter: publish failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		} else {
			metrics.IncNotification("ok")
			if next != "" && next != handle {
				r.book.SetHandle(key, next)
			}
		}
	}

	if r.history != nil {
		if err := r.history.Append(ctx, key, rec); err != nil {
			r.logger.WarnContext(ctx, "reporter: history append failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		r.emit(ctx, key, StatusEvent{Key: key.String(), Record: rec, Buttons: buttons.String()})
	}
}

func (r *Reporter) emit(ctx context.Context, key domain.PositionKey, ev StatusEvent) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		r.logger.WarnContext(ctx, "reporter: encode status event failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.bus.Publish(ctx, domain.ChannelStatus, payload); err != nil {
		r.logger.WarnContext(ctx, "reporter: bus publish failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}
