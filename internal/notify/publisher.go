package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// StatusMessage is one rendered status update.
type StatusMessage struct {
	Key     domain.PositionKey
	Text    string
	Buttons domain.ButtonState
}

// Channel delivers anchored status messages. Deliver edits the message
// identified by handle, or sends a new one when handle is empty, and returns
// the handle of the delivered message.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, handle string, msg StatusMessage) (string, error)
}

// Publisher fans status records out to every channel. The first channel owns
// the handle stored with the slot; handles of the others are kept here. A
// record whose rendered text and buttons did not change is not re-sent.
type Publisher struct {
	channels []Channel
	logger   *slog.Logger

	mu     sync.Mutex
	hashes map[domain.PositionKey]string
	extra  map[domain.PositionKey][]string // handles of channels[1:]
}

// NewPublisher creates a Publisher. With no channels every publish is a
// no-op that keeps the given handle.
func NewPublisher(channels []Channel, logger *slog.Logger) *Publisher {
	return &Publisher{
		channels: channels,
		logger:   logger.With(slog.String("component", "publisher")),
		hashes:   make(map[domain.PositionKey]string),
		extra:    make(map[domain.PositionKey][]string),
	}
}

// Publish renders rec and delivers it. It returns the primary handle.
func (p *Publisher) Publish(ctx context.Context, key domain.PositionKey, rec domain.OrderStatusRecord, handle string, buttons domain.ButtonState) (string, error) {
	msg := StatusMessage{Key: key, Text: rec.Render(), Buttons: buttons}
	sum := textHash(msg)

	p.mu.Lock()
	if handle != "" && p.hashes[key] == sum {
		p.mu.Unlock()
		return handle, nil
	}
	if handle == "" {
		// A fresh anchor starts a new message on every channel.
		delete(p.extra, key)
	}
	extra := append([]string(nil), p.extra[key]...)
	p.mu.Unlock()

	if len(p.channels) == 0 {
		return handle, nil
	}

	var errs []error
	primary := handle
	extra = append(extra, make([]string, max(0, len(p.channels)-1-len(extra)))...)
	for i, ch := range p.channels {
		current := handle
		if i > 0 {
			current = extra[i-1]
		}
		next, err := ch.Deliver(ctx, current, msg)
		if err != nil {
			p.logger.WarnContext(ctx, "publisher: deliver failed",
				slog.String("channel", ch.Name()),
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		if i == 0 {
			primary = next
		} else {
			extra[i-1] = next
		}
	}

	p.mu.Lock()
	switch {
	case buttons == domain.ButtonsClosed:
		delete(p.hashes, key)
		delete(p.extra, key)
	case len(errs) == 0:
		p.hashes[key] = sum
		p.extra[key] = extra
	default:
		p.extra[key] = extra
	}
	p.mu.Unlock()

	if len(errs) > 0 {
		return primary, fmt.Errorf("notify: publish %s: %w", key, errors.Join(errs...))
	}
	return primary, nil
}

func textHash(msg StatusMessage) string {
	sum := sha256.Sum256([]byte(msg.Buttons.String() + "\x00" + msg.Text))
	return hex.EncodeToString(sum[:])
}
