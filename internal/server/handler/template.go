package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propgate/propsim/internal/domain"
)

// TemplateService defines what the template handler needs.
type TemplateService interface {
	List(ctx context.Context) ([]domain.ChallengeTemplate, error)
	GetByID(ctx context.Context, id string) (domain.ChallengeTemplate, error)
}

// TemplateHandler serves the challenge template catalog.
type TemplateHandler struct {
	templates TemplateService
	logger    *slog.Logger
}

// NewTemplateHandler creates a TemplateHandler.
func NewTemplateHandler(templates TemplateService, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{
		templates: templates,
		logger:    logger,
	}
}

// listTemplatesResponse wraps the catalog output.
type listTemplatesResponse struct {
	Templates []domain.ChallengeTemplate `json:"templates"`
}

// ListTemplates returns the whole catalog.
// GET /api/templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list templates failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []domain.ChallengeTemplate{}
	}

	writeJSON(w, http.StatusOK, listTemplatesResponse{Templates: templates})
}

// GetTemplate returns a single template by its ID.
// GET /api/templates/{id}
func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing template id")
		return
	}

	tpl, err := h.templates.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get template failed",
			slog.String("template_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get template")
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}
