package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// DefaultRiskEpsilonPct is the minimum distance, in percent of the current
// price, between the market and a stop-loss or take-profit.
const DefaultRiskEpsilonPct = 0.05

// RiskRejection is a pre-trade validation failure. Reason is shown to the
// user verbatim as the entry status.
type RiskRejection struct {
	Reason string
}

func (r *RiskRejection) Error() string { return "risk: " + r.Reason }

func (r *RiskRejection) Unwrap() error { return domain.ErrRiskRejected }

func reject(format string, args ...any) error {
	return &RiskRejection{Reason: fmt.Sprintf(format, args...)}
}

// ValidateRiskOrder checks that sl and tp sit on the correct side of cur and
// at least epsPct percent away from it. A nil sl or tp is not checked.
//
//	LONG:  sl < cur < tp
//	SHORT: tp < cur < sl
func ValidateRiskOrder(side domain.Side, cur float64, sl, tp *float64, epsPct float64) error {
	if !positive(cur) {
		return reject("Invalid current price")
	}
	if !side.Valid() {
		return reject("Invalid position side")
	}
	tooClose := func(x float64) bool { return math.Abs(cur-x)/cur*100 < epsPct }

	if sl != nil {
		switch {
		case !positive(*sl):
			return reject("Invalid stop-loss")
		case side == domain.SideLong && *sl >= cur:
			return reject("Stop-loss must be BELOW current price (sl=%v, cur=%v)", *sl, cur)
		case side == domain.SideShort && *sl <= cur:
			return reject("Stop-loss must be ABOVE current price (sl=%v, cur=%v)", *sl, cur)
		case tooClose(*sl):
			return reject("Stop-loss too close (< %v%%)", epsPct)
		}
	}
	if tp != nil {
		switch {
		case !positive(*tp):
			return reject("Invalid take-profit")
		case side == domain.SideLong && *tp <= cur:
			return reject("Take-profit must be ABOVE current price (tp=%v, cur=%v)", *tp, cur)
		case side == domain.SideShort && *tp >= cur:
			return reject("Take-profit must be BELOW current price (tp=%v, cur=%v)", *tp, cur)
		case tooClose(*tp):
			return reject("Take-profit too close (< %v%%)", epsPct)
		}
	}
	return nil
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// BuildTakeProfits returns the TP legs of a signal. When the signal has a
// single TP and extraPct is set, a second TP is synthesized extraPct percent
// of the entry-to-TP1 distance away from entry. Two legs split the position
// 50/50 and are sorted by price; a single leg takes 100.
func BuildTakeProfits(sig domain.TradeSignal, extraPct float64, pricePrecision int, entry float64) []domain.TakeProfit {
	if entry <= 0 || !sig.Side.Valid() {
		return nil
	}
	tp1, tp2 := sig.TakeProfit1, sig.TakeProfit2
	if tp1 > 0 && extraPct > 0 && tp2 <= 0 {
		dist := math.Abs(tp1 - entry)
		tp2 = roundTo(entry+sig.Side.Sign()*dist*extraPct/100, pricePrecision)
	}

	prices := make([]float64, 0, 2)
	for _, p := range []float64{tp1, tp2} {
		if p > 0 {
			prices = append(prices, p)
		}
	}
	switch len(prices) {
	case 0:
		return nil
	case 1:
		return []domain.TakeProfit{{Price: prices[0], Portion: 100}}
	}
	sort.Float64s(prices)
	return []domain.TakeProfit{
		{Price: prices[0], Portion: 50},
		{Price: prices[1], Portion: 50},
	}
}

// FixPriceScale rescales price by the power of ten that brings it closest to
// cur, when that power is at least 10 or at most 0.1. Signals that quote
// "0.0654" for a 65.4 contract are corrected this way.
func FixPriceScale(price, cur float64) float64 {
	if price <= 0 || cur <= 0 {
		return price
	}
	exp := int32(math.RoundToEven(math.Log10(cur / price)))
	if exp == 0 {
		return price
	}
	out, _ := decimal.NewFromFloat(price).Mul(decimal.New(1, exp)).Float64()
	return out
}

// RiskService runs the pre-trade checks for a signal against the market.
type RiskService struct {
	epsilonPct float64
	logger     *slog.Logger
}

// NewRiskService creates a RiskService. A non-positive epsilonPct falls back
// to DefaultRiskEpsilonPct.
func NewRiskService(epsilonPct float64, logger *slog.Logger) *RiskService {
	if epsilonPct <= 0 {
		epsilonPct = DefaultRiskEpsilonPct
	}
	return &RiskService{
		epsilonPct: epsilonPct,
		logger:     logger.With(slog.String("component", "risk_service")),
	}
}

// PreTradeCheck validates the stop-loss and then every take-profit. It
// returns the first failure as a *RiskRejection.
func (s *RiskService) PreTradeCheck(ctx context.Context, sig domain.TradeSignal, cur float64, tps []domain.TakeProfit) error {
	var sl *float64
	if sig.StopLoss > 0 {
		sl = &sig.StopLoss
	}
	if err := ValidateRiskOrder(sig.Side, cur, sl, nil, s.epsilonPct); err != nil {
		s.logger.WarnContext(ctx, "risk_service: stop-loss rejected",
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Side)),
			slog.String("error", err.Error()),
		)
		return err
	}
	for _, tp := range tps {
		price := tp.Price
		if err := ValidateRiskOrder(sig.Side, cur, nil, &price, s.epsilonPct); err != nil {
			s.logger.WarnContext(ctx, "risk_service: take-profit rejected",
				slog.String("symbol", sig.Symbol),
				slog.String("side", string(sig.Side)),
				slog.Float64("tp", price),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	return nil
}
