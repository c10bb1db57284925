package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between two inbound messages.
	readWait = 60 * time.Second

	// pingPeriod sends application pings. Must be less than readWait.
	pingPeriod = 15 * time.Second

	// resubscribePeriod is how often the symbol set is re-read.
	resubscribePeriod = 30 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	tickersChannel = "futures.tickers"
)

// TickerHandler receives every last-price update.
type TickerHandler func(ctx context.Context, t Ticker, at time.Time)

// wsMessage is the envelope of every Gate futures WebSocket frame.
type wsMessage struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Result any `json:"result,omitempty"`
}

// TickerStream keeps a futures.tickers subscription alive for a changing
// set of symbols and forwards every update to a handler.
type TickerStream struct {
	url     string
	symbols func() []string
	handler TickerHandler
	logger  *slog.Logger

	mu         sync.Mutex
	subscribed map[string]struct{}
}

// NewTickerStream creates a stream against wsURL, e.g.
// "wss://fx-ws.gateio.ws/v4/ws/usdt". symbols is polled for the contracts
// to follow.
func NewTickerStream(wsURL string, symbols func() []string, handler TickerHandler, logger *slog.Logger) *TickerStream {
	return &TickerStream{
		url:        wsURL,
		symbols:    symbols,
		handler:    handler,
		logger:     logger.With(slog.String("component", "gate_ws")),
		subscribed: make(map[string]struct{}),
	}
}

// Run connects, subscribes and reads until ctx is cancelled. Disconnects
// are retried with exponential backoff.
func (s *TickerStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		s.logger.WarnContext(ctx, "ticker stream disconnected",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection until it fails or ctx ends.
func (s *TickerStream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("gate/ws: connect: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.subscribed = make(map[string]struct{})
	s.mu.Unlock()

	var writeMu sync.Mutex
	write := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		b, err := api.Marshal(msg)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if err := s.syncSubscriptions(write); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "ticker stream connected", slog.String("url", s.url))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go s.keepAlive(sessCtx, write)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gate/ws: read: %w", err)
		}
		s.handle(ctx, raw)
	}
}

// keepAlive sends application pings and picks up new symbols.
func (s *TickerStream) keepAlive(ctx context.Context, write func(wsMessage) error) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	resub := time.NewTicker(resubscribePeriod)
	defer resub.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := write(wsMessage{Time: time.Now().Unix(), Channel: "futures.ping"}); err != nil {
				return
			}
		case <-resub.C:
			if err := s.syncSubscriptions(write); err != nil {
				s.logger.WarnContext(ctx, "ticker resubscribe failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// syncSubscriptions subscribes to symbols not yet followed on this
// connection.
func (s *TickerStream) syncSubscriptions(write func(wsMessage) error) error {
	var fresh []string
	s.mu.Lock()
	for _, sym := range s.symbols() {
		if _, ok := s.subscribed[sym]; !ok {
			fresh = append(fresh, sym)
		}
	}
	s.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	msg := wsMessage{
		Time:    time.Now().Unix(),
		Channel: tickersChannel,
		Event:   "subscribe",
		Payload: fresh,
	}
	if err := write(msg); err != nil {
		return fmt.Errorf("gate/ws: subscribe: %w", err)
	}

	s.mu.Lock()
	for _, sym := range fresh {
		s.subscribed[sym] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// handle decodes one frame and forwards ticker updates.
func (s *TickerStream) handle(ctx context.Context, raw []byte) {
	var msg wsMessage
	if err := api.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Error != nil {
		s.logger.WarnContext(ctx, "ticker stream error",
			slog.String("channel", msg.Channel),
			slog.Int("code", msg.Error.Code),
			slog.String("message", msg.Error.Message),
		)
		return
	}
	if msg.Channel != tickersChannel || msg.Event != "update" {
		return
	}

	at := time.Unix(msg.Time, 0)
	for _, row := range normalizeValue(msg.Result).List() {
		last := row.Float("last")
		if last <= 0 {
			continue
		}
		s.handler(ctx, Ticker{Symbol: row.String("contract"), Last: last}, at)
	}
}
