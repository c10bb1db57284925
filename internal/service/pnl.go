package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// PnLConfig controls the realized-PnL lookup. The exchange publishes the
// position close record with a delay, so the lookup retries.
type PnLConfig struct {
	Attempts   int           // default 7
	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 2s
}

// PnLReporter resolves the realized PnL of a position that just closed.
type PnLReporter struct {
	exchange Exchange
	cfg      PnLConfig
	jitter   func() float64
	logger   *slog.Logger
}

// NewPnLReporter creates a PnLReporter.
func NewPnLReporter(exchange Exchange, cfg PnLConfig, logger *slog.Logger) *PnLReporter {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 7
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 2 * cfg.MinBackoff
	}
	return &PnLReporter{
		exchange: exchange,
		cfg:      cfg,
		jitter:   rand.Float64,
		logger:   logger.With(slog.String("component", "pnl")),
	}
}

// Report looks up the realized PnL of the slot's last position. A report
// without PnL carries domain.FailedPnLText.
func (p *PnLReporter) Report(ctx context.Context, key domain.PositionKey, st domain.PositionState, end time.Time) domain.PnLReport {
	report := domain.PnLReport{ClosedAt: end, Text: domain.FailedPnLText}

	first, exact := p.firstOpenTime(ctx, key, st)
	if first <= 0 {
		p.logger.WarnContext(ctx, "pnl: open time unknown", slog.String("key", key.String()))
		return report
	}
	from, to := first-60, end.Unix()

	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		rows, err := p.exchange.PositionCloses(ctx, key.Symbol, key.Side, from, to)
		if err != nil {
			p.logger.DebugContext(ctx, "pnl: position close lookup failed",
				slog.String("key", key.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		for _, row := range rows {
			if !strings.EqualFold(row.Side, string(key.Side)) || row.Time > to {
				continue
			}
			if exact && row.FirstOpenTime != first {
				continue
			}
			if !exact && row.FirstOpenTime < from {
				continue
			}
			pnl := roundTo(row.PnL, 5)
			roi := ROI(pnl, st.MarginVolume)
			report.PnL, report.ROI = &pnl, &roi
			report.Text = FormatPnL(&pnl, &roi, end)
			return report
		}
		if attempt == p.cfg.Attempts {
			break
		}
		if err := sleepCtx(ctx, p.backoff()); err != nil {
			return report
		}
	}
	p.logger.WarnContext(ctx, "pnl: no close record",
		slog.String("key", key.String()),
		slog.Int64("first_open", first),
	)
	return report
}

// firstOpenTime returns the unix second the position opened. exact is true
// when it comes from the entry order's own fills.
func (p *PnLReporter) firstOpenTime(ctx context.Context, key domain.PositionKey, st domain.PositionState) (int64, bool) {
	if st.OrderID != "" {
		trades, err := p.exchange.MyTrades(ctx, key.Symbol, st.OrderID)
		if err == nil && len(trades) > 0 {
			first := trades[0].CreateTime
			for _, t := range trades[1:] {
				first = min(first, t.CreateTime)
			}
			return first, true
		}
		if err != nil {
			p.logger.DebugContext(ctx, "pnl: trades lookup failed",
				slog.String("key", key.String()), slog.String("error", err.Error()))
		}
	}
	if st.OpenedAt.IsZero() {
		return 0, false
	}
	return st.OpenedAt.Unix(), false
}

func (p *PnLReporter) backoff() time.Duration {
	span := p.cfg.MaxBackoff - p.cfg.MinBackoff
	return p.cfg.MinBackoff + time.Duration(p.jitter()*float64(span))
}

// ROI is pnl as a percentage of margin, rounded to 5 decimals. It is zero
// when either input is zero.
func ROI(pnl, margin float64) float64 {
	if pnl == 0 || margin == 0 {
		return 0
	}
	return roundTo(pnl/margin*100, 5)
}

// FormatPnL renders the PnL line shown when a position closes. The sign
// follows roi; a nil pnl renders as N/A.
func FormatPnL(pnl, roi *float64, closedAt time.Time) string {
	value := "N/A"
	if pnl != nil {
		switch {
		case roi == nil:
			value = fmt.Sprintf("%.3f", *pnl)
		case *roi > 0:
			value = fmt.Sprintf("+ %.3f", *pnl)
		case *roi < 0:
			value = fmt.Sprintf("- %.3f", math.Abs(*pnl))
		default:
			value = fmt.Sprintf("%.4f", *pnl)
		}
	}
	return fmt.Sprintf("PNL: %s usdt\nClose time - [%s]\n", value, closedAt.UTC().Format(time.DateTime))
}
