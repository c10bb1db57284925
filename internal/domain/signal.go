package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a futures position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide accepts LONG/SHORT in any case, plus the buy/sell aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return SideLong, nil
	case "SHORT", "SELL":
		return SideShort, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidSignal, s)
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sign is +1 for LONG and -1 for SHORT.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Lower is the lower-case form used by some exchange endpoints.
func (s Side) Lower() string { return strings.ToLower(string(s)) }

// NormalizeSymbol maps "btc", "BTCUSDT", "btc/usdt" and "BTC_USDT" to "BTC_USDT".
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	s = strings.TrimSuffix(s, "USDT")
	if s == "" {
		return ""
	}
	return s + "_USDT"
}

// TradeSignal is a fully parsed trading instruction. Timestamp and RawText
// together identify the source message for deduplication.
type TradeSignal struct {
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	EntryPrice  float64 `json:"entry_price"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit1"`
	TakeProfit2 float64 `json:"take_profit2,omitempty"`
	Leverage    int     `json:"leverage,omitempty"`
	ForceLimit  bool    `json:"force_limit,omitempty"`
	HalfMargin  bool    `json:"half_margin,omitempty"`
	SettingsTag string  `json:"settings_tag"`
	Timestamp   int64   `json:"timestamp"` // unix ms of the source message
	RawText     string  `json:"raw_text"`
}

// Key returns the position slot this signal targets.
func (s TradeSignal) Key() PositionKey {
	return PositionKey{Symbol: s.Symbol, Side: s.Side}
}

// ReceivedAt converts Timestamp to a time.Time.
func (s TradeSignal) ReceivedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Validate checks that every mandatory field is present.
func (s TradeSignal) Validate() error {
	var missing []string
	if s.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if !s.Side.Valid() {
		missing = append(missing, "side")
	}
	if s.EntryPrice <= 0 {
		missing = append(missing, "entry_price")
	}
	if s.StopLoss <= 0 {
		missing = append(missing, "stop_loss")
	}
	if s.TakeProfit1 <= 0 {
		missing = append(missing, "take_profit1")
	}
	if s.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignal, strings.Join(missing, ", "))
	}
	return nil
}
