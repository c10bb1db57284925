package domain

import (
	"fmt"
	"time"
)

// ClosedTrade is the journal entry written when a slot is finalized.
type ClosedTrade struct {
	ID           string      `json:"id"`
	Key          PositionKey `json:"key"`
	SettingsTag  string      `json:"settings_tag"`
	Leverage     int         `json:"leverage"`
	EntryPrice   float64     `json:"entry_price"`
	Contracts    float64     `json:"contracts"`
	MarginVolume float64     `json:"margin_volume"`
	ExitStatus   string      `json:"exit_status"`
	PnL          *float64    `json:"pnl,omitempty"`
	ROI          *float64    `json:"roi,omitempty"`
	PnLText      string      `json:"pnl_text"`
	OpenedAt     time.Time   `json:"opened_at"`
	ClosedAt     time.Time   `json:"closed_at"`
}

// Duration is the holding time, zero when OpenedAt is unknown.
func (t ClosedTrade) Duration() time.Duration {
	if t.OpenedAt.IsZero() || t.ClosedAt.Before(t.OpenedAt) {
		return 0
	}
	return t.ClosedAt.Sub(t.OpenedAt)
}

// FormatDuration renders d as "2h 5m", "3m 4s", "3m" or "45s".
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0 && secs > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}

// PnLReport is the outcome of a realized PnL lookup.
type PnLReport struct {
	PnL      *float64
	ROI      *float64
	ClosedAt time.Time
	Text     string
}
