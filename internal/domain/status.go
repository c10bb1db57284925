package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry and trigger status vocabulary shown to the user.
const (
	StatusNone           = "none"
	StatusWaiting        = "waiting"
	StatusPending        = "pending"
	StatusFilled         = "filled"
	StatusClosedManually = "closed manually"
	StatusFinished       = "finished"
	StatusModified       = "modified"
	StatusCancelled      = "cancelled"
	StatusInvalidData    = "Invalid data"
)

// Failure reasons that do not come from the exchange.
const (
	ReasonContractsZero   = "CONTRACTS=0"
	ReasonUnknown         = "unknown"
	ReasonTimeout         = "TIME-OUT"
	ReasonUnknownResponse = "UNKNOWN_RESPONSE"
	ReasonNoContracts     = "NO_CONTRACTS"
	ReasonInvalidTPInput  = "INVALID_TP_INPUT"
	ReasonInvalidSLInput  = "INVALID_SL_INPUT"
	ReasonZeroContractsTP = "ZERO_CONTRACTS_FOR_TP"
	ReasonTPOrderFailed   = "TP_ORDER_FAILED"
	ReasonSLOrderFailed   = "SL_ORDER_FAILED"
)

const (
	DefaultPnLText = "PNL: trade not finished"
	FailedPnLText  = "PNL: failed to get PnL"
)

const failedPrefix = "failed. Reason: "

// Failed renders a failure status.
func Failed(reason string) string {
	return failedPrefix + reason
}

// TriggerStatus is one TP or SL line of a status record.
type TriggerStatus struct {
	Price  float64 `json:"price"`
	Status string  `json:"status"`
}

// OrderStatusRecord is the user-facing status of one slot's trade.
type OrderStatusRecord struct {
	Symbol      string           `json:"symbol"`
	Side        Side             `json:"side"`
	Leverage    int              `json:"leverage"`
	OrderType   OrderType        `json:"order_type"`
	EntryPrice  float64          `json:"entry_price"`
	EntryStatus string           `json:"entry_status"`
	TP          [2]TriggerStatus `json:"tp"`
	SL          TriggerStatus    `json:"sl"`
	PnLText     string           `json:"pnl_text"`
	UpdatedAt   int64            `json:"updated_at"` // unix ms
}

// NewStatusRecord returns the default record for a fresh signal.
func NewStatusRecord(key PositionKey) OrderStatusRecord {
	return OrderStatusRecord{
		Symbol:      key.Symbol,
		Side:        key.Side,
		EntryStatus: StatusNone,
		TP:          [2]TriggerStatus{{Status: StatusNone}, {Status: StatusNone}},
		SL:          TriggerStatus{Status: StatusNone},
		PnLText:     DefaultPnLText,
	}
}

// Terminal reports whether the entry already reached a final state that a
// later close must not overwrite.
func (r OrderStatusRecord) Terminal() bool {
	switch r.EntryStatus {
	case StatusClosedManually, StatusFinished, StatusNone:
		return true
	}
	return false
}

// ResetTriggers marks every TP and SL line with status.
func (r *OrderStatusRecord) ResetTriggers(status string) {
	r.TP[0].Status = status
	r.TP[1].Status = status
	r.SL.Status = status
}

// Render is the plain-text form sent to chat. The second TP line is shown
// only when it carries a price.
func (r OrderStatusRecord) Render() string {
	lev := ""
	if r.Leverage > 0 {
		lev = fmt.Sprintf(" X%d", r.Leverage)
	}
	lines := []string{
		fmt.Sprintf("%s | %s%s", r.Symbol, r.Side, lev),
		fmt.Sprintf("Order Type: %s", orDash(string(r.OrderType))),
		fmt.Sprintf("Entry price: %s | Status: %s", formatPrice(r.EntryPrice), r.EntryStatus),
		fmt.Sprintf("Take profit 1: %s | Status: %s", formatPrice(r.TP[0].Price), r.TP[0].Status),
	}
	if r.TP[1].Price > 0 {
		lines = append(lines, fmt.Sprintf("Take profit 2: %s | Status: %s", formatPrice(r.TP[1].Price), r.TP[1].Status))
	}
	lines = append(lines,
		fmt.Sprintf("Stop-loss: %s | Status: %s", formatPrice(r.SL.Price), r.SL.Status),
		"",
		orDefault(r.PnLText, DefaultPnLText),
	)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func formatPrice(p float64) string {
	if p == 0 {
		return "—"
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func orDash(s string) string { return orDefault(s, "—") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ButtonState selects the inline actions attached to a status message.
type ButtonState int

const (
	ButtonsNone ButtonState = iota
	ButtonsOpened
	ButtonsClosed
)

func (b ButtonState) String() string {
	switch b {
	case ButtonsOpened:
		return "opened"
	case ButtonsClosed:
		return "closed"
	}
	return "none"
}

// PendingRequest maps a client order id to the exchange ids it produced.
type PendingRequest struct {
	ClientID string      `json:"client_id"`
	Key      PositionKey `json:"key"`
	MainID   string      `json:"main_id"`
	TPIDs    [2]string   `json:"tp_ids"`
	SLID     string      `json:"sl_id"`
}
