package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// SignalSubmitter accepts a parsed trade signal for dispatch.
type SignalSubmitter interface {
	Submit(ctx context.Context, sig domain.TradeSignal) error
}

// SignalHandler is the HTTP intake for parsed signals.
type SignalHandler struct {
	executor SignalSubmitter
	logger   *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(executor SignalSubmitter, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{executor: executor, logger: logger}
}

// SubmitSignal queues a signal. 202 means it passed admission; the open
// itself runs in the background.
// POST /api/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.TradeSignal
	if err := decodeBody(r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	if side, err := domain.ParseSide(string(sig.Side)); err == nil {
		sig.Side = side
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = time.Now().UnixMilli()
	}
	if err := h.executor.Submit(r.Context(), sig); err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: submit signal failed",
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"key":    sig.Key().String(),
	})
}
