package domain

import "strings"

// OrderType selects how an entry, close or trigger leg is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ParseOrderType defaults to market for anything but "limit".
func ParseOrderType(s string) OrderType {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderTypeLimit)) {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// MarginMode is the isolated/cross margin setting of a position.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// ParseMarginMode defaults to cross for anything but "isolated".
func ParseMarginMode(s string) MarginMode {
	if strings.EqualFold(strings.TrimSpace(s), string(MarginIsolated)) {
		return MarginIsolated
	}
	return MarginCross
}

// TakeProfit is one synthesized TP leg. Portion is a percentage of the
// position size.
type TakeProfit struct {
	Price   float64 `json:"price"`
	Portion float64 `json:"portion"`
}

// LegResult is the outcome of placing one order leg.
type LegResult struct {
	OrderID string
	Err     error
}

// OK reports whether the leg produced an exchange id.
func (r LegResult) OK() bool { return r.Err == nil && r.OrderID != "" }
