// Package server provides HTTP server setup for the design module.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomline-systems/loomline/internal/handlers"
	"github.com/loomline-systems/loomline/internal/middleware"
)

// NewRouter constructs a ServeMux with the module API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Pipeline item routes
	mux.HandleFunc("POST /api/v1/pipeline/items", h.CreateItem)
	mux.HandleFunc("GET /api/v1/pipeline/items", h.ListItems)
	mux.HandleFunc("GET /api/v1/pipeline/items/{id}", h.GetItem)
	mux.HandleFunc("POST /api/v1/pipeline/items/{id}/advance", h.AdvanceItem)
	mux.HandleFunc("POST /api/v1/pipeline/items/{id}/validate", h.ValidateItem)
	mux.HandleFunc("POST /api/v1/pipeline/items/{id}/cancel", h.CancelItem)
	mux.HandleFunc("POST /api/v1/pipeline/items/{id}/stage", h.SetItemStage)
	mux.HandleFunc("POST /api/v1/pipeline/items/{id}/clear", h.ClearItem)

	// Validation routes
	mux.HandleFunc("GET /api/v1/validations", h.ListValidations)
	mux.HandleFunc("POST /api/v1/validations/{correlationId}/response", h.RespondValidation)

	// Alert routes
	mux.HandleFunc("GET /api/v1/alerts", h.ListAlerts)
	mux.HandleFunc("POST /api/v1/alerts", h.CreateAlert)
	mux.HandleFunc("GET /api/v1/alerts/{id}", h.GetAlert)
	mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", h.ResolveAlert)
	mux.HandleFunc("DELETE /api/v1/alerts/{id}", h.DeleteAlert)

	// Event journal and intake routes
	mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	mux.HandleFunc("POST /api/v1/events", h.PublishEvent)
	mux.HandleFunc("POST /api/v1/events/receive", h.ReceiveEvent)

	return middleware.RequestID(mux)
}
