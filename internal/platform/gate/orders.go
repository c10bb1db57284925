package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// PlaceOrder submits a main order. A response without an id returns a zero
// Order and a nil error; callers decide how to report it.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	resp, err := c.Execute(ctx, http.MethodPost, c.futures("orders"), nil, req.body(), true)
	if err != nil {
		return Order{}, fmt.Errorf("gate: place order %s: %w", req.Symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return Order{}, fmt.Errorf("gate: place order %s: %w", req.Symbol, apiErr)
	}
	if resp.Empty() {
		return Order{}, nil
	}
	return parseOrder(resp.First()), nil
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (Order, error) {
	params := url.Values{"contract": {symbol}}
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("orders", orderID), params, nil, true)
	if err != nil {
		return Order{}, fmt.Errorf("gate: get order %s: %w", orderID, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return Order{}, fmt.Errorf("gate: get order %s: %w", orderID, apiErr)
	}
	if resp.Empty() {
		return Order{}, nil
	}
	return parseOrder(resp.First()), nil
}

// CancelOrder cancels one main order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"contract": {symbol}}
	resp, err := c.Execute(ctx, http.MethodDelete, c.futures("orders", orderID), params, nil, true)
	if err != nil {
		return fmt.Errorf("gate: cancel order %s: %w", orderID, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return fmt.Errorf("gate: cancel order %s: %w", orderID, apiErr)
	}
	return nil
}

// CancelOrders cancels the open main orders of one position side, including
// reduce-only ones. It returns how many were cancelled.
func (c *Client) CancelOrders(ctx context.Context, symbol string, side domain.Side) (int, error) {
	bookSide := "bid"
	if side == domain.SideShort {
		bookSide = "ask"
	}
	params := url.Values{
		"contract":            {symbol},
		"side":                {bookSide},
		"exclude_reduce_only": {"false"},
	}
	resp, err := c.Execute(ctx, http.MethodDelete, c.futures("orders"), params, nil, true)
	if err != nil {
		return 0, fmt.Errorf("gate: cancel orders %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return 0, fmt.Errorf("gate: cancel orders %s: %w", symbol, apiErr)
	}
	if resp.Kind != KindMany {
		return 0, nil
	}
	return len(resp.List()), nil
}

// PlacePriceOrder submits a price-triggered order and returns its id.
func (c *Client) PlacePriceOrder(ctx context.Context, req PriceOrderRequest) (string, error) {
	resp, err := c.Execute(ctx, http.MethodPost, c.futures("price_orders"), nil, req.body(), true)
	if err != nil {
		return "", fmt.Errorf("gate: place price order %s: %w", req.Symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return "", fmt.Errorf("gate: place price order %s: %w", req.Symbol, apiErr)
	}
	return resp.First().String("id"), nil
}

// CancelPriceOrder cancels one price-triggered order.
func (c *Client) CancelPriceOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"contract": {symbol}}
	resp, err := c.Execute(ctx, http.MethodDelete, c.futures("price_orders", orderID), params, nil, true)
	if err != nil {
		return fmt.Errorf("gate: cancel price order %s: %w", orderID, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return fmt.Errorf("gate: cancel price order %s: %w", orderID, apiErr)
	}
	return nil
}

// CancelAll cancels the main orders of one position slot and then each of
// its trigger orders by id. Every step runs; their errors are joined. Ids
// are passed explicitly because the trigger cancel endpoint cannot filter
// by position side.
func (c *Client) CancelAll(ctx context.Context, key domain.PositionKey, triggerIDs []string) (int, error) {
	n, err := c.CancelOrders(ctx, key.Symbol, key.Side)
	errs := []error{err}
	for _, id := range triggerIDs {
		if id == "" {
			continue
		}
		if err := c.CancelPriceOrder(ctx, key.Symbol, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
