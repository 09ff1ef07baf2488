package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomline-systems/loomline/internal/alerts"
	"github.com/loomline-systems/loomline/internal/httputil"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
)

// =============================================================================
// Alert Handlers
// =============================================================================

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := &models.ListAlertsRequest{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		Category: q.Get("category"),
		Limit:    queryLimit(q),
	}

	list, err := h.alerts.List(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list alerts", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

// CreateAlert handles POST /api/v1/alerts
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Alert title required")
		return
	}
	if !alerts.ValidSeverity(req.Severity) {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid severity: "+req.Severity)
		return
	}

	alert, err := h.alerts.Create(r.Context(), &req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to create alert", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, alert)
}

// GetAlert handles GET /api/v1/alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	alert, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to get alert", "alert_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to get alert")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, alert)
}

// ResolveAlert handles POST /api/v1/alerts/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req models.ResolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ResolvedBy == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Resolver required")
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), id, req.ResolvedBy)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlertNotFound):
			httputil.WriteError(w, http.StatusNotFound, "Alert not found")
		case errors.Is(err, alerts.ErrAlreadyResolved):
			httputil.WriteError(w, http.StatusConflict, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "Failed to resolve alert", "alert_id", id, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to resolve alert")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, alert)
}

// DeleteAlert handles DELETE /api/v1/alerts/{id}
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.alerts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to delete alert", "alert_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to delete alert")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
