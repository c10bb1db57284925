package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// SizeInput carries everything needed to turn a margin budget into a
// contract count.
type SizeInput struct {
	MarginSize        float64 // quote currency
	EntryPrice        float64
	Leverage          int
	ContractValue     float64 // base asset per contract
	LotSize           float64
	ContractPrecision int
	VolumeRate        float64 // percent of MarginSize to deploy, 100 when zero
}

// SizeContracts returns the order size in contracts, rounded to the nearest
// lot multiple and then to the contract precision. Rounding is half-to-even.
func SizeContracts(in SizeInput) (float64, error) {
	if in.VolumeRate == 0 {
		in.VolumeRate = 100
	}
	if in.MarginSize <= 0 || in.EntryPrice <= 0 || in.Leverage <= 0 ||
		in.ContractValue <= 0 || in.LotSize <= 0 || in.VolumeRate < 0 {
		return 0, fmt.Errorf("service: size contracts: %w", domain.ErrInvalidSize)
	}

	deal := decimal.NewFromFloat(in.MarginSize).
		Mul(decimal.NewFromFloat(in.VolumeRate)).
		Div(decimal.NewFromInt(100))
	base := deal.Mul(decimal.NewFromInt(int64(in.Leverage))).Div(decimal.NewFromFloat(in.EntryPrice))
	raw := base.Div(decimal.NewFromFloat(in.ContractValue))

	lot := decimal.NewFromFloat(in.LotSize)
	steps := raw.Div(lot).RoundBank(0).Mul(lot)
	qty, _ := steps.RoundBank(int32(in.ContractPrecision)).Float64()
	if qty <= 0 {
		return 0, fmt.Errorf("service: size contracts: below one lot: %w", domain.ErrInvalidSize)
	}
	return qty, nil
}

// wholeContracts reports whether the spec trades in whole contracts, the only
// granularity Gate futures accept.
func wholeContracts(spec domain.ContractSpec) bool {
	step := math.Max(math.Pow10(-spec.ContractPrecision), spec.LotSize)
	return step >= 1
}

// roundTo rounds f half-to-even at prec decimals.
func roundTo(f float64, prec int) float64 {
	out, _ := decimal.NewFromFloat(f).RoundBank(int32(prec)).Float64()
	return out
}

// ceilTo rounds f up at prec decimals.
func ceilTo(f float64, prec int) float64 {
	shift := decimal.New(1, int32(prec))
	out, _ := decimal.NewFromFloat(f).Mul(shift).Ceil().Div(shift).Float64()
	return out
}
