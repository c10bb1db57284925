package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Contracts lists the trading constraints of every futures contract of the
// settle currency.
func (c *Client) Contracts(ctx context.Context) ([]domain.ContractSpec, error) {
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("contracts"), nil, nil, false)
	if err != nil {
		return nil, fmt.Errorf("gate: contracts: %w", err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return nil, fmt.Errorf("gate: contracts: %w", apiErr)
	}
	out := make([]domain.ContractSpec, 0, len(resp.List()))
	for _, row := range resp.List() {
		if spec := ParseContract(row); spec.Symbol != "" {
			out = append(out, spec)
		}
	}
	return out, nil
}

// Ticker returns the last price of one contract.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{"contract": {symbol}}
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("tickers"), params, nil, false)
	if err != nil {
		return Ticker{}, fmt.Errorf("gate: ticker %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return Ticker{}, fmt.Errorf("gate: ticker %s: %w", symbol, apiErr)
	}
	for _, row := range resp.List() {
		name := row.String("contract")
		if name == "" {
			name = row.String("name")
		}
		if name == symbol {
			return Ticker{Symbol: symbol, Last: row.Float("last")}, nil
		}
	}
	return Ticker{}, fmt.Errorf("gate: ticker %s: not found", symbol)
}

// Tickers returns the last price of every contract keyed by symbol.
func (c *Client) Tickers(ctx context.Context) (map[string]float64, error) {
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("tickers"), nil, nil, false)
	if err != nil {
		return nil, fmt.Errorf("gate: tickers: %w", err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return nil, fmt.Errorf("gate: tickers: %w", apiErr)
	}
	out := make(map[string]float64, len(resp.List()))
	for _, row := range resp.List() {
		name := row.String("contract")
		if name == "" {
			name = row.String("name")
		}
		if name == "" {
			continue
		}
		if last := row.Float("last"); last > 0 {
			out[name] = last
		}
	}
	return out, nil
}

// OrderBook returns the top limit levels of both sides.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	params := url.Values{
		"contract": {symbol},
		"limit":    {strconv.Itoa(limit)},
	}
	resp, err := c.Execute(ctx, http.MethodGet, c.futures("order_book"), params, nil, false)
	if err != nil {
		return OrderBook{}, fmt.Errorf("gate: order book %s: %w", symbol, err)
	}
	if apiErr := resp.APIError(); apiErr != nil {
		return OrderBook{}, fmt.Errorf("gate: order book %s: %w", symbol, apiErr)
	}
	obj := resp.First()
	return OrderBook{
		Symbol: symbol,
		Bids:   parseLevels(obj.Objects("bids")),
		Asks:   parseLevels(obj.Objects("asks")),
	}, nil
}
