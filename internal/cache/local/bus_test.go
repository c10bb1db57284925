package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBus()

	a, err := b.Subscribe(ctx, "status")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "status")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "signals")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "status", []byte("x")))
	for _, ch := range []<-chan []byte{a, c} {
		select {
		case got := <-ch:
			assert.Equal(t, []byte("x"), got)
		case <-time.After(time.Second):
			t.Fatal("no payload")
		}
	}
	select {
	case <-other:
		t.Fatal("payload leaked to another channel")
	default:
	}
}

func TestBusClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()
	ch, err := b.Subscribe(ctx, "status")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.NoError(t, b.Publish(context.Background(), "status", []byte("late")))
}
