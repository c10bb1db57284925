package domain

// DefaultMaxLeverage applies when the exchange reports no leverage cap.
const DefaultMaxLeverage = 20

// ContractSpec holds the per-symbol trading constraints.
type ContractSpec struct {
	Symbol            string  `json:"symbol"`
	ContractValue     float64 `json:"contract_value"` // base asset per contract
	LotSize           float64 `json:"lot_size"`       // minimum order size in contracts
	PricePrecision    int     `json:"price_precision"`
	ContractPrecision int     `json:"contract_precision"`
	MaxLeverage       int     `json:"max_leverage"`
}

// ClampLeverage caps lev at the spec's MaxLeverage, or DefaultMaxLeverage
// when the spec does not carry one.
func (c ContractSpec) ClampLeverage(lev int) int {
	limit := c.MaxLeverage
	if limit <= 0 {
		limit = DefaultMaxLeverage
	}
	return min(lev, limit)
}
