package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomline-systems/loomline/internal/httputil"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/pipeline"
	"github.com/loomline-systems/loomline/internal/repository"
)

// =============================================================================
// Pipeline Item Handlers
// =============================================================================

// CreateItem handles POST /api/v1/pipeline/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req models.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Item name required")
		return
	}
	if req.Actor == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Actor required")
		return
	}

	item, err := h.pipeline.Create(r.Context(), &req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to create pipeline item", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create pipeline item")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, item)
}

// ListItems handles GET /api/v1/pipeline/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := &models.ListItemsRequest{
		Stage: q.Get("stage"),
		Limit: queryLimit(q),
	}
	if v := q.Get("blocked"); v != "" {
		blocked := v == "true"
		req.Blocked = &blocked
	}

	items, err := h.pipeline.List(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list pipeline items", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to list pipeline items")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// GetItem handles GET /api/v1/pipeline/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	item, err := h.pipeline.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Pipeline item not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to get pipeline item", "item_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to get pipeline item")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// AdvanceItem handles POST /api/v1/pipeline/items/{id}/advance
func (h *Handler) AdvanceItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Actor == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Actor required")
		return
	}

	item, err := h.pipeline.Advance(r.Context(), id, req.Actor)
	if err != nil {
		h.writeItemError(w, r, id, err, "Failed to advance pipeline item")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// ValidateItem handles POST /api/v1/pipeline/items/{id}/validate
func (h *Handler) ValidateItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	item, err := h.pipeline.Validate(r.Context(), id)
	if err != nil {
		h.writeItemError(w, r, id, err, "Failed to issue validations")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// CancelItem handles POST /api/v1/pipeline/items/{id}/cancel
func (h *Handler) CancelItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Actor == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Actor required")
		return
	}

	item, err := h.pipeline.Cancel(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		h.writeItemError(w, r, id, err, "Failed to cancel pipeline item")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// SetItemStage handles POST /api/v1/pipeline/items/{id}/stage
func (h *Handler) SetItemStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.SetStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Actor == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Actor required")
		return
	}
	if !models.ValidStage(req.Stage) {
		httputil.WriteError(w, http.StatusBadRequest, "Unknown stage: "+req.Stage)
		return
	}

	item, err := h.pipeline.SetStage(r.Context(), id, req.Stage, req.Actor, req.Note)
	if err != nil {
		h.writeItemError(w, r, id, err, "Failed to override pipeline stage")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// ClearItem handles POST /api/v1/pipeline/items/{id}/clear
func (h *Handler) ClearItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Actor == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Actor required")
		return
	}

	item, err := h.pipeline.ClearRejection(r.Context(), id, req.Actor)
	if err != nil {
		h.writeItemError(w, r, id, err, "Failed to clear rejection")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, item)
}

// writeItemError maps pipeline service errors onto HTTP statuses. Transition
// and gate refusals keep their message so callers see what blocked them.
func (h *Handler) writeItemError(w http.ResponseWriter, r *http.Request, id string, err error, internalMsg string) {
	switch {
	case errors.Is(err, repository.ErrItemNotFound):
		httputil.WriteError(w, http.StatusNotFound, "Pipeline item not found")
	case errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrValidationRejected):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), internalMsg, "item_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, internalMsg)
	}
}
