package domain

import "time"

// TradeProfile is the resolved trading configuration of one settings tag.
type TradeProfile struct {
	Tag              string
	MarginSize       float64
	MarginMode       MarginMode
	OrderType        OrderType
	TriggerOrderType OrderType
	Leverage         int // zero takes the leverage from the signal
	ExtraTPPct       float64
	OrderTimeout     time.Duration
}
