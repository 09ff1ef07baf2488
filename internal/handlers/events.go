package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/httputil"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/transport"
	"github.com/loomline-systems/loomline/internal/webhook"
)

// =============================================================================
// Event Handlers
// =============================================================================

// ListEvents handles GET /api/v1/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := &models.ListJournalRequest{
		Direction: q.Get("direction"),
		Module:    q.Get("module"),
		EventType: q.Get("type"),
		Limit:     queryLimit(q),
	}

	entries, err := h.journal.ListEvents(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list journal entries", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to list journal entries")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"count":  len(entries),
	})
}

// PublishEvent handles POST /api/v1/events
//
// Operator path for publishing an envelope as this module.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req models.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Event type required")
		return
	}

	env := events.New(req.Type, h.self, req.TargetModule, req.Payload)
	if err := h.bus.Publish(r.Context(), env); err != nil {
		switch {
		case errors.Is(err, transport.ErrDeliveryFailed):
			httputil.WriteError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, transport.ErrBusClosed):
			httputil.WriteError(w, http.StatusServiceUnavailable, "Event bus is not running")
		default:
			h.logger.ErrorContext(r.Context(), "Failed to publish event", "event_type", req.Type, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to publish event")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "published",
		"id":     env.ID,
	})
}

// ReceiveEvent handles POST /api/v1/events/receive
//
// Fallback webhook other modules call when their broadcast goes unanswered.
// The bearer token must be addressed to this module and its issuer must match
// the envelope's sourceModule. Duplicates are acknowledged with 200 so the
// sender stops retrying.
func (h *Handler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}

	issuer, err := h.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, webhook.ErrWrongAudience) {
			httputil.WriteError(w, http.StatusForbidden, "Delivery token addressed to a different module")
			return
		}
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid delivery token")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	env, err := events.Decode(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if env.SourceModule != issuer {
		httputil.WriteError(w, http.StatusForbidden, "Token issuer does not match envelope source")
		return
	}

	if err := h.bus.Receive(r.Context(), env); err != nil {
		switch {
		case errors.Is(err, transport.ErrDuplicateEvent):
			httputil.WriteJSON(w, http.StatusOK, map[string]string{
				"status": "duplicate",
				"id":     env.ID,
			})
		case errors.Is(err, transport.ErrBusClosed):
			httputil.WriteError(w, http.StatusServiceUnavailable, "Event bus is not running")
		default:
			h.logger.ErrorContext(r.Context(), "Failed to ingest event",
				"event_id", env.ID, "event_type", env.Type, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to ingest event")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     env.ID,
	})
}
