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

// AccountService is the slice of the engine the account handler needs.
type AccountService interface {
	StartChallenge(ctx context.Context, accountID, templateID string) (domain.Account, error)
	GetSnapshot(ctx context.Context, accountID string) (engine.Snapshot, error)
}

// AccountHandler serves account state and challenge lifecycle endpoints.
type AccountHandler struct {
	engine  AccountService
	history domain.HistoryStore
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(eng AccountService, history domain.HistoryStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine:  eng,
		history: history,
		logger:  logger,
	}
}

type startChallengeRequest struct {
	TemplateID string `json:"template_id"`
}

// StartChallenge activates a challenge for the account.
// POST /api/accounts/{id}/challenge
func (h *AccountHandler) StartChallenge(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req startChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	acc, err := h.engine.StartChallenge(r.Context(), accountID, req.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account or template not found")
			return
		}
		if errors.Is(err, domain.ErrChallengeActive) {
			writeError(w, http.StatusConflict, "account already has an active challenge")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: start challenge failed",
			slog.String("account_id", accountID),
			slog.String("template_id", req.TemplateID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start challenge")
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

// GetSnapshot returns the account with live equity and open positions.
// GET /api/accounts/{id}
func (h *AccountHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	snap, err := h.engine.GetSnapshot(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get snapshot failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// listHistoryResponse wraps the order history output.
type listHistoryResponse struct {
	Entries []domain.OrderHistoryEntry `json:"entries"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// ListHistory returns the account's order history, newest first.
// GET /api/accounts/{id}/history
func (h *AccountHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	opts := parseListOpts(r)
	entries, err := h.history.ListByAccount(r.Context(), accountID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []domain.OrderHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, listHistoryResponse{
		Entries: entries,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
