package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propgate/propsim/internal/domain"
	"github.com/propgate/propsim/internal/engine"
)

// OrderService is the slice of the engine the order handler needs.
type OrderService interface {
	PlaceOrder(ctx context.Context, req engine.OrderRequest) (domain.Position, error)
	CancelOrder(ctx context.Context, accountID, positionID string) error
	ClosePosition(ctx context.Context, accountID, positionID string, reason domain.CloseReason) (domain.OrderHistoryEntry, error)
	UpdateStopTake(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error
}

// OrderHandler serves order placement and position management endpoints.
type OrderHandler struct {
	engine OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(eng OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: eng,
		logger: logger,
	}
}

type placeOrderRequest struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Size       float64  `json:"size"`
	Leverage   int      `json:"leverage"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

func (r placeOrderRequest) validate() error {
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	side := domain.Side(r.Side)
	if side != domain.SideLong && side != domain.SideShort {
		return errors.New("side must be LONG or SHORT")
	}
	if r.Size <= 0 {
		return errors.New("size must be positive")
	}
	if r.Leverage < 1 {
		return errors.New("leverage must be at least 1")
	}
	return nil
}

// PlaceOrder validates and opens a market position.
// POST /api/accounts/{id}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.engine.PlaceOrder(r.Context(), engine.OrderRequest{
		AccountID:  accountID,
		Symbol:     req.Symbol,
		Side:       domain.Side(req.Side),
		Size:       req.Size,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		if ve, ok := domain.AsValidation(err); ok {
			writeReject(w, ve)
			return
		}
		if errors.Is(err, domain.ErrFeedUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "price feed unavailable")
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: place order failed",
			slog.String("account_id", accountID),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// CancelOrder cancels an open position without realizing pnl.
// DELETE /api/accounts/{id}/orders/{posID}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	positionID := r.PathValue("posID")
	if accountID == "" || positionID == "" {
		writeError(w, http.StatusBadRequest, "missing account or position id")
		return
	}

	if err := h.engine.CancelOrder(r.Context(), accountID, positionID); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("account_id", accountID),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type closePositionRequest struct {
	// FromChart marks closes initiated from the charting widget so the
	// history entry records MANUAL_CHART instead of MANUAL.
	FromChart bool `json:"from_chart"`
}

// ClosePosition closes an open position at the current market price.
// POST /api/accounts/{id}/positions/{posID}/close
func (h *OrderHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	positionID := r.PathValue("posID")
	if accountID == "" || positionID == "" {
		writeError(w, http.StatusBadRequest, "missing account or position id")
		return
	}

	var req closePositionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	reason := domain.CloseManual
	if req.FromChart {
		reason = domain.CloseManualChart
	}

	entry, err := h.engine.ClosePosition(r.Context(), accountID, positionID, reason)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			writeError(w, http.StatusConflict, "position already closed")
			return
		}
		if errors.Is(err, domain.ErrFeedUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "price feed unavailable")
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("account_id", accountID),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type updateStopsRequest struct {
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// UpdateStops adjusts the protective levels on an open position. Stop-loss
// moves are only accepted in the risk-reducing direction.
// PUT /api/accounts/{id}/positions/{posID}/stops
func (h *OrderHandler) UpdateStops(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	positionID := r.PathValue("posID")
	if accountID == "" || positionID == "" {
		writeError(w, http.StatusBadRequest, "missing account or position id")
		return
	}

	var req updateStopsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StopLoss == nil && req.TakeProfit == nil {
		writeError(w, http.StatusBadRequest, "stop_loss or take_profit is required")
		return
	}

	if err := h.engine.UpdateStopTake(r.Context(), accountID, positionID, req.StopLoss, req.TakeProfit); err != nil {
		if errors.Is(err, domain.ErrRiskIncrease) {
			writeError(w, http.StatusUnprocessableEntity, "stop-loss update would increase risk")
			return
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyClosed) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update stops failed",
			slog.String("account_id", accountID),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update stops")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
