// Package handlers provides HTTP request handlers for the design module API.
package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/loomline-systems/loomline/internal/alerts"
	"github.com/loomline-systems/loomline/internal/httputil"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/pipeline"
	"github.com/loomline-systems/loomline/internal/repository"
	"github.com/loomline-systems/loomline/internal/transport"
	"github.com/loomline-systems/loomline/internal/validation"
	"github.com/loomline-systems/loomline/internal/webhook"
)

// Handler provides HTTP handlers for the design module API.
type Handler struct {
	pipeline    *pipeline.Service
	alerts      *alerts.Manager
	validations *validation.Orchestrator
	bus         *transport.Bus
	journal     repository.JournalRepository
	verifier    *webhook.TokenSigner
	logger      *logging.Logger
	self        string
}

// NewHandler creates a new Handler instance.
func NewHandler(
	pipe *pipeline.Service,
	mgr *alerts.Manager,
	orch *validation.Orchestrator,
	bus *transport.Bus,
	journal repository.JournalRepository,
	verifier *webhook.TokenSigner,
	logger *logging.Logger,
	self string,
) *Handler {
	return &Handler{
		pipeline:    pipe,
		alerts:      mgr,
		validations: orch,
		bus:         bus,
		journal:     journal,
		verifier:    verifier,
		logger:      logger,
		self:        self,
	}
}

// =============================================================================
// Helpers
// =============================================================================

// queryLimit parses the limit query parameter, zero when absent or invalid.
func queryLimit(q url.Values) int {
	n, _ := strconv.Atoi(q.Get("limit")) //nolint:errcheck // zero means no limit
	return n
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// =============================================================================
// Health Check Handlers
// =============================================================================

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Service: h.self,
	})
}
