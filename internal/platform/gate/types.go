package gate

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Trigger price sources for price-triggered orders.
const (
	PriceTypeLast  = 0
	PriceTypeMark  = 1
	PriceTypeIndex = 2
)

// Trigger rules: fire when price >= or <= the trigger price.
const (
	RuleGTE = 1
	RuleLTE = 2
)

// TriggerExpiration is the lifetime of a price-triggered order in seconds.
const TriggerExpiration = 86400

// Ticker is the last traded price of one contract.
type Ticker struct {
	Symbol string
	Last   float64
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// BestBid returns the top bid price or 0.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price or 0.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Order is a futures order as reported by the exchange.
type Order struct {
	ID        string
	Symbol    string
	Status    string // open | finished
	FinishAs  string // filled | cancelled | ioc | ...
	Text      string
	Size      float64
	Left      float64
	FillPrice float64
}

// Filled reports whether the order completed by matching.
func (o Order) Filled() bool {
	switch strings.ToLower(o.Status) {
	case "filled", "closed":
		return true
	case "finished":
		return o.FinishAs == "" || o.FinishAs == "filled"
	}
	return false
}

// OrderRequest describes a main (entry or close) order.
type OrderRequest struct {
	Symbol     string
	Size       float64 // positive buys, negative sells
	Price      float64 // zero for market
	ReduceOnly bool
	ClientID   string
}

func (r OrderRequest) body() map[string]any {
	b := map[string]any{
		"contract":    r.Symbol,
		"size":        sizeNumber(r.Size),
		"reduce_only": r.ReduceOnly,
	}
	if r.Price > 0 {
		b["price"] = formatFloat(r.Price)
		b["tif"] = "gtc"
	} else {
		b["price"] = "0"
		b["tif"] = "ioc"
	}
	if r.ClientID != "" {
		b["text"] = "t-" + clip(r.ClientID, 28)
	}
	return b
}

// PriceOrderRequest describes a price-triggered reduce-only order.
type PriceOrderRequest struct {
	Symbol       string
	Size         float64 // signed closing size
	Price        float64 // zero for a market execution leg
	TriggerPrice float64
	Rule         int
	PriceType    int
	Text         string // full text including the t- prefix
}

func (r PriceOrderRequest) body() map[string]any {
	initial := map[string]any{
		"contract":    r.Symbol,
		"size":        sizeNumber(r.Size),
		"reduce_only": true,
		"text":        clip(r.Text, 30),
	}
	if r.Price > 0 {
		initial["price"] = formatFloat(r.Price)
		initial["tif"] = "gtc"
	} else {
		initial["price"] = "0"
		initial["tif"] = "ioc"
	}
	return map[string]any{
		"initial": initial,
		"trigger": map[string]any{
			"strategy_type": 0,
			"price_type":    r.PriceType,
			"price":         formatFloat(r.TriggerPrice),
			"rule":          r.Rule,
			"expiration":    TriggerExpiration,
		},
	}
}

// PositionClose is one row of the closed-position history.
type PositionClose struct {
	Symbol        string
	Side          string
	PnL           float64
	Time          int64 // close time, unix seconds
	FirstOpenTime int64 // unix seconds
}

// Trade is one fill from the account trade history.
type Trade struct {
	ID         string
	OrderID    string
	Size       float64
	Price      float64
	CreateTime int64 // unix seconds
}

func parseOrder(o Object) Order {
	return Order{
		ID:        o.String("id"),
		Symbol:    o.String("contract"),
		Status:    o.String("status"),
		FinishAs:  o.String("finish_as"),
		Text:      o.String("text"),
		Size:      o.Float("size"),
		Left:      o.Float("left"),
		FillPrice: o.Float("fill_price"),
	}
}

func parseLevels(list []Object) []BookLevel {
	out := make([]BookLevel, 0, len(list))
	for _, l := range list {
		out = append(out, BookLevel{Price: l.Float("p"), Size: l.Float("s")})
	}
	return out
}

// ParseContract converts one contracts row into a ContractSpec.
func ParseContract(o Object) domain.ContractSpec {
	ctVal := o.String("quanto_multiplier")
	if ctVal == "" {
		ctVal = "1"
	}
	lot := o.String("order_size_min")
	if lot == "" {
		lot = "1"
	}
	tick := o.String("order_price_round")
	if tick == "" {
		tick = "0.01"
	}
	spec := domain.ContractSpec{
		Symbol:            o.String("name"),
		ContractValue:     parseFloat(ctVal),
		LotSize:           parseFloat(lot),
		PricePrecision:    decimals(tick),
		ContractPrecision: decimals(lot),
	}
	if lev := o.Float("leverage_max"); lev > 0 {
		spec.MaxLeverage = int(lev)
	}
	return spec
}

// ParsePosition converts one positions row. ok is false for flat rows.
func ParsePosition(o Object) (domain.ExchangePosition, bool) {
	size := o.Float("size")
	if size == 0 {
		return domain.ExchangePosition{}, false
	}
	side := domain.SideLong
	if size < 0 {
		side = domain.SideShort
	}
	return domain.ExchangePosition{
		Key:        domain.PositionKey{Symbol: strings.ToUpper(o.String("contract")), Side: side},
		Contracts:  abs(size),
		EntryPrice: o.Float("entry_price"),
		Notional:   o.Float("value"),
		Margin:     o.Float("margin"),
		Leverage:   int(o.Float("leverage")),
	}, true
}

// decimals counts the digits after the decimal point of a literal.
func decimals(s string) int {
	_, frac, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return 0
	}
	return len(frac)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sizeNumber sends the size as a bare JSON number.
func sizeNumber(f float64) json.Number {
	return json.Number(formatFloat(f))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
