package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingChannel struct {
	name string
	mu   sync.Mutex
	sent []string // "send" or "edit:<handle>"
	next int
	err  error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, handle string, _ StatusMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return handle, c.err
	}
	if handle != "" {
		c.sent = append(c.sent, "edit:"+handle)
		return handle, nil
	}
	c.next++
	c.sent = append(c.sent, "send")
	return c.name + strconv.Itoa(c.next), nil
}

var btcLong = domain.PositionKey{Symbol: "BTC_USDT", Side: domain.SideLong}

func TestPublisherSendsThenEdits(t *testing.T) {
	primary, secondary := &recordingChannel{name: "tg"}, &recordingChannel{name: "dc"}
	p := NewPublisher([]Channel{primary, secondary}, testLogger())
	ctx := context.Background()
	rec := domain.NewStatusRecord(btcLong)

	handle, err := p.Publish(ctx, btcLong, rec, "", domain.ButtonsNone)
	require.NoError(t, err)
	assert.Equal(t, "tg1", handle)

	rec.EntryStatus = domain.StatusFilled
	handle, err = p.Publish(ctx, btcLong, rec, handle, domain.ButtonsOpened)
	require.NoError(t, err)
	assert.Equal(t, "tg1", handle)

	assert.Equal(t, []string{"send", "edit:tg1"}, primary.sent)
	assert.Equal(t, []string{"send", "edit:dc1"}, secondary.sent)
}

func TestPublisherSkipsUnchangedText(t *testing.T) {
	ch := &recordingChannel{name: "tg"}
	p := NewPublisher([]Channel{ch}, testLogger())
	ctx := context.Background()
	rec := domain.NewStatusRecord(btcLong)

	handle, _ := p.Publish(ctx, btcLong, rec, "", domain.ButtonsNone)
	for i := 0; i < 3; i++ {
		_, err := p.Publish(ctx, btcLong, rec, handle, domain.ButtonsNone)
		require.NoError(t, err)
	}
	assert.Len(t, ch.sent, 1)

	_, err := p.Publish(ctx, btcLong, rec, handle, domain.ButtonsOpened)
	require.NoError(t, err)
	assert.Len(t, ch.sent, 2, "a button change is a change")
}

func TestPublisherClosedStartsOver(t *testing.T) {
	ch := &recordingChannel{name: "tg"}
	p := NewPublisher([]Channel{ch}, testLogger())
	ctx := context.Background()
	rec := domain.NewStatusRecord(btcLong)

	handle, _ := p.Publish(ctx, btcLong, rec, "", domain.ButtonsNone)
	_, _ = p.Publish(ctx, btcLong, rec, handle, domain.ButtonsClosed)
	handle, err := p.Publish(ctx, btcLong, rec, "", domain.ButtonsNone)
	require.NoError(t, err)
	assert.Equal(t, "tg2", handle)
	assert.Equal(t, []string{"send", "edit:tg1", "send"}, ch.sent)
}

func TestPublisherReportsChannelErrors(t *testing.T) {
	bad := &recordingChannel{name: "tg", err: errors.New("429")}
	good := &recordingChannel{name: "dc"}
	p := NewPublisher([]Channel{bad, good}, testLogger())

	_, err := p.Publish(context.Background(), btcLong, domain.NewStatusRecord(btcLong), "", domain.ButtonsNone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tg: 429")
	assert.Equal(t, []string{"send"}, good.sent)
}

func TestParseCallback(t *testing.T) {
	a, err := ParseCallback("close_confirm:BTC_USDT:SHORT:limit:yes")
	require.NoError(t, err)
	assert.Equal(t, "close_confirm", a.Name)
	assert.Equal(t, domain.PositionKey{Symbol: "BTC_USDT", Side: domain.SideShort}, a.Key)
	assert.Equal(t, domain.OrderTypeLimit, a.CloseType)
	assert.True(t, a.Confirmed)

	_, err = ParseCallback("noop")
	assert.Error(t, err)
	_, err = ParseCallback("close:BTC_USDT:UP")
	assert.Error(t, err)
}

func TestParsePriceInput(t *testing.T) {
	price, pct, err := ParsePriceInput("51000,5 50", true)
	require.NoError(t, err)
	assert.Equal(t, 51000.5, price)
	assert.Equal(t, 50.0, pct)

	price, _, err = ParsePriceInput(" 49000 ", false)
	require.NoError(t, err)
	assert.Equal(t, 49000.0, price)

	_, _, err = ParsePriceInput("51000", true)
	assert.Error(t, err)
	_, _, err = ParsePriceInput("51000 150", true)
	assert.Error(t, err)
	_, _, err = ParsePriceInput("-1", false)
	assert.Error(t, err)
}

func TestStatusKeyboard(t *testing.T) {
	kb := statusKeyboard(btcLong, domain.ButtonsOpened)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "close:BTC_USDT:LONG", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Empty(t, statusKeyboard(btcLong, domain.ButtonsNone).InlineKeyboard)
}

func TestDiscordDeliver(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		assert.True(t, strings.Contains(string(body), "BTC_USDT"))
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"998877"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL + "/hook")
	msg := StatusMessage{Key: btcLong, Text: domain.NewStatusRecord(btcLong).Render()}
	handle, err := d.Deliver(context.Background(), "", msg)
	require.NoError(t, err)
	assert.Equal(t, "998877", handle)

	_, err = d.Deliver(context.Background(), handle, msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST /hook?wait=true", "PATCH /hook/messages/998877?"}, calls)
}
