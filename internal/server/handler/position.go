package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// PositionReader exposes read-only snapshots of the slot book.
type PositionReader interface {
	Snapshot() map[domain.PositionKey]domain.PositionState
	Records() map[domain.PositionKey]domain.OrderStatusRecord
}

// PositionActions are the user controls on an open slot.
type PositionActions interface {
	ModifyTakeProfit(ctx context.Context, key domain.PositionKey, index int, price, pct float64) error
	ModifyStopLoss(ctx context.Context, key domain.PositionKey, price float64) error
	ForceClose(ctx context.Context, key domain.PositionKey, closeType domain.OrderType) error
}

// PositionHandler serves slot snapshots and user actions.
type PositionHandler struct {
	book    PositionReader
	actions PositionActions
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(book PositionReader, actions PositionActions, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{book: book, actions: actions, logger: logger}
}

type positionView struct {
	Symbol string                    `json:"symbol"`
	Side   domain.Side               `json:"side"`
	State  domain.PositionState      `json:"state"`
	Record *domain.OrderStatusRecord `json:"record,omitempty"`
	Text   string                    `json:"text,omitempty"`
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns every known slot with its status record.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	states := h.book.Snapshot()
	records := h.book.Records()

	out := make([]positionView, 0, len(states))
	for key, st := range states {
		v := positionView{Symbol: key.Symbol, Side: key.Side, State: st}
		if rec, ok := records[key]; ok {
			v.Record = &rec
			v.Text = rec.Render()
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}

type takeProfitRequest struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Pct   float64 `json:"pct"`
}

// ModifyTakeProfit replaces one take-profit trigger.
// POST /api/positions/{symbol}/{side}/tp
func (h *PositionHandler) ModifyTakeProfit(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req takeProfitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Index == 0 {
		req.Index = 1
	}
	h.respond(w, r, "tp", key, h.actions.ModifyTakeProfit(r.Context(), key, req.Index, req.Price, req.Pct))
}

type stopLossRequest struct {
	Price float64 `json:"price"`
}

// ModifyStopLoss replaces the stop-loss trigger.
// POST /api/positions/{symbol}/{side}/sl
func (h *PositionHandler) ModifyStopLoss(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req stopLossRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.respond(w, r, "sl", key, h.actions.ModifyStopLoss(r.Context(), key, req.Price))
}

type closeRequest struct {
	Type string `json:"type"`
}

// ClosePosition closes the slot at market or at the book.
// POST /api/positions/{symbol}/{side}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	h.respond(w, r, "close", key, h.actions.ForceClose(r.Context(), key, domain.ParseOrderType(req.Type)))
}

func (h *PositionHandler) respond(w http.ResponseWriter, r *http.Request, action string, key domain.PositionKey, err error) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: position action failed",
				slog.String("action", action),
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"action": action,
		"key":    key.String(),
	})
}
