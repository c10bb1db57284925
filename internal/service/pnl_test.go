package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

func TestFormatPnL(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 5, 0, time.FixedZone("UTC+3", 3*3600))
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		pnl, roi *float64
		want     string
	}{
		{"profit", f(1.23456), f(12.3), "PNL: + 1.235 usdt\nClose time - [2024-03-01 09:30:05]\n"},
		{"loss", f(-0.5), f(-5), "PNL: - 0.500 usdt\nClose time - [2024-03-01 09:30:05]\n"},
		{"flat", f(0), f(0), "PNL: 0.0000 usdt\nClose time - [2024-03-01 09:30:05]\n"},
		{"no roi", f(2), nil, "PNL: 2.000 usdt\nClose time - [2024-03-01 09:30:05]\n"},
		{"unknown", nil, nil, "PNL: N/A usdt\nClose time - [2024-03-01 09:30:05]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPnL(tt.pnl, tt.roi, at))
		})
	}
}

func TestROI(t *testing.T) {
	assert.Equal(t, 0.0, ROI(0, 10))
	assert.Equal(t, 0.0, ROI(5, 0))
	assert.Equal(t, 50.0, ROI(5, 10))
	assert.Equal(t, 33.33333, ROI(1, 3))
}

func TestPnLReportRetriesThenGivesUp(t *testing.T) {
	ex := &fakeExchange{}
	p := NewPnLReporter(ex, PnLConfig{Attempts: 3, MinBackoff: time.Millisecond}, testLogger())
	st := domain.PositionState{OpenedAt: time.Unix(1000, 0), MarginVolume: 10}

	report := p.Report(context.Background(), btcLong, st, time.Unix(2000, 0))
	assert.Nil(t, report.PnL)
	assert.Equal(t, domain.FailedPnLText, report.Text)
}

func TestPnLReportFallsBackToOpenTime(t *testing.T) {
	ex := &fakeExchange{closes: []gate.PositionClose{
		{Side: "long", PnL: -2, Time: 1900, FirstOpenTime: 1003},
	}}
	p := NewPnLReporter(ex, PnLConfig{Attempts: 1}, testLogger())
	st := domain.PositionState{OrderID: "gone", OpenedAt: time.Unix(1000, 0), MarginVolume: 20}

	report := p.Report(context.Background(), btcLong, st, time.Unix(2000, 0))
	if assert.NotNil(t, report.PnL) {
		assert.Equal(t, -2.0, *report.PnL)
		assert.Equal(t, -10.0, *report.ROI)
	}
	assert.Contains(t, report.Text, "PNL: - 2.000 usdt")
}

func TestPnLReportWithoutOpenTime(t *testing.T) {
	p := NewPnLReporter(&fakeExchange{}, PnLConfig{}, testLogger())
	report := p.Report(context.Background(), btcLong, domain.PositionState{}, time.Now())
	assert.Nil(t, report.PnL)
	assert.Equal(t, domain.FailedPnLText, report.Text)
}
