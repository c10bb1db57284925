package domain

import "time"

// PositionKey identifies one position slot. Gate dual mode allows a LONG and
// a SHORT on the same contract at once.
type PositionKey struct {
	Symbol string `json:"symbol"`
	Side   Side   `json:"side"`
}

func (k PositionKey) String() string {
	return k.Symbol + "_" + string(k.Side)
}

// PositionState is the local mirror of one slot.
type PositionState struct {
	Leverage       int       `json:"leverage"`
	MarginVolume   float64   `json:"margin_volume"`
	NotionalVolume float64   `json:"notional_volume"`
	AssetVolume    float64   `json:"asset_volume"`
	Contracts      float64   `json:"contracts"`
	EntryPrice     float64   `json:"entry_price"`
	PendingOpen    bool      `json:"pending_open"`
	InPosition     bool      `json:"in_position"`
	OrderID        string    `json:"order_id,omitempty"`
	TPOrderIDs     [2]string `json:"tp_order_ids"`
	SLOrderID      string    `json:"sl_order_id,omitempty"`
	OpenedAt       time.Time `json:"opened_at"`
	SettingsTag    string    `json:"settings_tag,omitempty"`
}

// DefaultPositionState is the template a slot is created from and reset to.
func DefaultPositionState() PositionState {
	return PositionState{}
}

// Busy reports whether the slot must not accept a new open.
func (p PositionState) Busy() bool {
	return p.InPosition || p.PendingOpen
}

// ExchangePosition is one row of the exchange position list after
// normalization.
type ExchangePosition struct {
	Key        PositionKey
	Contracts  float64
	EntryPrice float64
	Notional   float64
	Margin     float64
	Leverage   int
}
