package service

import (
	"context"
	"errors"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

// Exchange is the subset of the Gate futures client the services use.
type Exchange interface {
	Ticker(ctx context.Context, symbol string) (gate.Ticker, error)
	Tickers(ctx context.Context) (map[string]float64, error)
	OrderBook(ctx context.Context, symbol string, limit int) (gate.OrderBook, error)
	Positions(ctx context.Context) ([]domain.ExchangePosition, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, mode domain.MarginMode) error
	SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error
	PlaceOrder(ctx context.Context, req gate.OrderRequest) (gate.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (gate.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	PlacePriceOrder(ctx context.Context, req gate.PriceOrderRequest) (string, error)
	CancelPriceOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, key domain.PositionKey, triggerIDs []string) (int, error)
	PositionCloses(ctx context.Context, symbol string, side domain.Side, from, to int64) ([]gate.PositionClose, error)
	MyTrades(ctx context.Context, symbol, orderID string) ([]gate.Trade, error)
}

// ContractSource lists the tradable contracts.
type ContractSource interface {
	Contracts(ctx context.Context) ([]domain.ContractSpec, error)
}

// failureReason turns an exchange error into the text that follows
// "failed. Reason: " in a status line.
func failureReason(err error) string {
	var apiErr *gate.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason()
	}
	var rej *RiskRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	var skip *skippedLeg
	if errors.As(err, &skip) {
		return skip.reason
	}
	return err.Error()
}
