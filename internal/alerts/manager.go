// Package alerts turns inbound events and local failures into persisted,
// severity-classified alerts. Unknown event kinds are never dropped; they
// land as low-severity unclassified alerts.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/metrics"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
)

// ErrAlreadyResolved indicates a resolve on an alert that is not open.
var ErrAlreadyResolved = errors.New("alert already resolved")

// classification fixes the severity and category an event kind maps to.
type classification struct {
	severity string
	category string
}

var classifications = map[string]classification{
	events.KindDeliveryFailed:      {models.SeverityCritical, models.CategoryDelivery},
	events.KindValidationTimedOut:  {models.SeverityHigh, models.CategoryValidation},
	events.KindApprovalDecided:     {models.SeverityMedium, models.CategoryBusiness},
	events.KindInventoryUpdated:    {models.SeverityMedium, models.CategoryBusiness},
	events.KindCampaignPerformance: {models.SeverityMedium, models.CategoryBusiness},
	events.KindFinancialReport:     {models.SeverityMedium, models.CategoryBusiness},
	events.KindSalesDataUpdated:    {models.SeverityLow, models.CategoryBusiness},
}

// ClassifiedKinds lists the event kinds with a fixed classification, for
// wiring explicit bus subscriptions. Everything else reaches the manager
// through the default handler.
func ClassifiedKinds() []string {
	return []string{
		events.KindDeliveryFailed,
		events.KindValidationTimedOut,
		events.KindApprovalDecided,
		events.KindInventoryUpdated,
		events.KindCampaignPerformance,
		events.KindFinancialReport,
		events.KindSalesDataUpdated,
	}
}

// Manager owns alert creation and lifecycle.
type Manager struct {
	repo   repository.AlertRepository
	logger *logging.Logger
}

// NewManager creates an alert manager.
func NewManager(repo repository.AlertRepository, logger *logging.Logger) *Manager {
	return &Manager{repo: repo, logger: logger}
}

// HandleEvent classifies an envelope and persists an alert referencing it.
func (m *Manager) HandleEvent(ctx context.Context, env *events.Envelope) error {
	class, ok := classifications[env.Type]
	if !ok {
		class = classification{models.SeverityLow, models.CategoryUnclassified}
		metrics.EventsReceived.WithLabelValues("unclassified").Inc()
		m.logger.WarnContext(ctx, "Unclassified event kind, raising low-severity alert",
			"type", env.Type,
			"source", env.SourceModule)
	}

	title, _ := env.Payload["title"].(string)
	if title == "" {
		title = fmt.Sprintf("Event: %s", env.Type)
	}
	message, _ := env.Payload["message"].(string)
	if message == "" {
		message = fmt.Sprintf("Received %s from %s", env.Type, env.SourceModule)
	}

	alert, err := m.persist(ctx, &models.Alert{
		Severity:    class.severity,
		Category:    class.category,
		Title:       title,
		Message:     message,
		SourceEvent: env,
	})
	if err != nil {
		return fmt.Errorf("persist alert for %s: %w", env.Type, err)
	}

	m.logger.InfoContext(ctx, "Alert raised",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"category", alert.Category,
		"event_type", env.Type)
	return nil
}

// Create creates an alert directly, the operator path.
func (m *Manager) Create(ctx context.Context, req *models.CreateAlertRequest) (*models.Alert, error) {
	if !ValidSeverity(req.Severity) {
		return nil, fmt.Errorf("invalid severity: %s", req.Severity)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	category := req.Category
	if category == "" {
		category = models.CategoryPipeline
	}

	return m.persist(ctx, &models.Alert{
		Severity: req.Severity,
		Category: category,
		Title:    req.Title,
		Message:  req.Message,
	})
}

func (m *Manager) persist(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	alertUUID, _ := uuid.NewV7()
	alert.ID = alertUUID.String()
	alert.Status = models.AlertStatusOpen
	alert.CreatedAt = time.Now().UTC()

	if err := m.repo.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}

	metrics.AlertsCreated.WithLabelValues(alert.Severity).Inc()
	metrics.AlertsOpen.Inc()
	return alert, nil
}

// Get retrieves an alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Alert, error) {
	return m.repo.GetAlert(ctx, id)
}

// List retrieves alerts matching the filter.
func (m *Manager) List(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, error) {
	return m.repo.ListAlerts(ctx, req)
}

// Resolve marks an open alert resolved.
func (m *Manager) Resolve(ctx context.Context, id, resolvedBy string) (*models.Alert, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	now := time.Now().UTC()
	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy

	if err := m.repo.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}

	metrics.AlertsOpen.Dec()
	m.logger.InfoContext(ctx, "Alert resolved",
		"alert_id", id,
		"resolved_by", resolvedBy)
	return alert, nil
}

// Delete removes an alert, the operator cleanup path.
func (m *Manager) Delete(ctx context.Context, id string) error {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteAlert(ctx, id); err != nil {
		return err
	}
	if alert.Status == models.AlertStatusOpen {
		metrics.AlertsOpen.Dec()
	}
	return nil
}

// SyncOpenGauge resets the open-alerts gauge from the store. Called at
// startup so the gauge survives restarts.
func (m *Manager) SyncOpenGauge(ctx context.Context) error {
	n, err := m.repo.CountOpenAlerts(ctx)
	if err != nil {
		return err
	}
	metrics.AlertsOpen.Set(float64(n))
	return nil
}

// ValidSeverity reports whether the name is a known alert severity.
func ValidSeverity(severity string) bool {
	switch severity {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}
