package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// TradeLister reads the closed-trade journal.
type TradeLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error)
}

// TradeHandler serves the closed-trade journal.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeView struct {
	domain.ClosedTrade
	Duration string `json:"duration"`
}

// ListTrades returns closed trades, newest first.
// GET /api/trades?limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeView{ClosedTrade: t, Duration: domain.FormatDuration(t.Duration())})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}
