package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Positions lists the account's open positions. Flat rows are skipped.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("positions"), nil, nil, true)
	if err != nil {
		return nil, fmt.Errorf("gate: positions: %w", err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return nil, fmt.Errorf("gate: positions: %w", apiErr)
	}
	out := make([]domain.ExchangePosition, 0, len(resp.List()))
	for _, row := range resp.List() {
		if pos, ok := ParsePosition(row); ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

// SetLeverage changes the dual-mode leverage of a contract. A zero leverage
// in cross mode also lifts the cross leverage limit.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, mode domain.MarginMode) error {
	params := url.Values{"leverage": {strconv.Itoa(leverage)}}
	if leverage == 0 && mode == domain.MarginCross {
		params.Set("cross_leverage_limit", "0")
	}
	resp, err := c.Execute(ctx, http.MethodPost, c.futures("dual_comp", "positions", symbol, "leverage"), params, nil, true)
	if err != nil {
		return fmt.Errorf("gate: set leverage %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return fmt.Errorf("gate: set leverage %s: %w", symbol, apiErr)
	}
	return nil
}

// SetMarginMode switches a dual-mode contract between isolated and cross.
func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	body := map[string]any{
		"mode":     strings.ToUpper(string(mode)),
		"contract": symbol,
	}
	resp, err := c.Execute(ctx, http.MethodPost, c.futures("dual_comp", "positions", "cross_mode"), nil, body, true)
	if err != nil {
		return fmt.Errorf("gate: set margin mode %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return fmt.Errorf("gate: set margin mode %s: %w", symbol, apiErr)
	}
	return nil
}

// PositionCloses returns the closed-position history of one contract side
// between from and to (unix seconds).
func (c *Client) PositionCloses(ctx context.Context, symbol string, side domain.Side, from, to int64) ([]PositionClose, error) {
	params := url.Values{
		"contract": {symbol},
		"side":     {side.Lower()},
	}
	if from > 0 {
		params.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		params.Set("to", strconv.FormatInt(to, 10))
	}
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("position_close"), params, nil, true)
	if err != nil {
		return nil, fmt.Errorf("gate: position close %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return nil, fmt.Errorf("gate: position close %s: %w", symbol, apiErr)
	}
	if resp.Kind != KindMany {
		return nil, fmt.Errorf("gate: position close %s: unexpected %s response", symbol, resp.Kind)
	}
	out := make([]PositionClose, 0, len(resp.List()))
	for _, row := range resp.List() {
		out = append(out, PositionClose{
			Symbol:        row.String("contract"),
			Side:          strings.ToUpper(row.String("side")),
			PnL:           row.Float("pnl"),
			Time:          row.Int("time"),
			FirstOpenTime: row.Int("first_open_time"),
		})
	}
	return out, nil
}

// MyTrades returns the fills of one order.
func (c *Client) MyTrades(ctx context.Context, symbol, orderID string) ([]Trade, error) {
	params := url.Values{
		"contract": {symbol},
		"order":    {orderID},
	}
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("my_trades"), params, nil, true)
	if err != nil {
		return nil, fmt.Errorf("gate: my trades %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return nil, fmt.Errorf("gate: my trades %s: %w", symbol, apiErr)
	}
	out := make([]Trade, 0, len(resp.List()))
	for _, row := range resp.List() {
		out = append(out, Trade{
			ID:         row.String("id"),
			OrderID:    row.String("order_id"),
			Size:       row.Float("size"),
			Price:      row.Float("price"),
			CreateTime: row.Int("create_time"),
		})
	}
	return out, nil
}
