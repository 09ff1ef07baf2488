package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/httputil"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/validation"
)

// =============================================================================
// Validation Handlers
// =============================================================================

// ListValidations handles GET /api/v1/validations
func (h *Handler) ListValidations(w http.ResponseWriter, r *http.Request) {
	pending := h.validations.Pending()

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"validations": pending,
		"count":       len(pending),
	})
}

// RespondValidation handles POST /api/v1/validations/{correlationId}/response
//
// Operator path around the event bus: the verdict resolves the pending
// validation under the same first-write-wins rules as a broker response.
func (h *Handler) RespondValidation(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationId")

	var req models.ValidationResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	verdict := events.Verdict{
		Approved:    req.Approved,
		Reason:      req.Reason,
		RespondedBy: req.RespondedBy,
	}
	if verdict.RespondedBy == "" {
		verdict.RespondedBy = "operator"
	}

	if err := h.validations.Resolve(r.Context(), correlationID, verdict); err != nil {
		if errors.Is(err, validation.ErrAlreadyResolved) {
			httputil.WriteError(w, http.StatusConflict, "Validation already resolved")
			return
		}
		if errors.Is(err, validation.ErrValidationNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Validation not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to resolve validation",
			"correlation_id", correlationID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to resolve validation")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":        "resolved",
		"correlationId": correlationID,
	})
}
