package repository

import (
	"context"
	"errors"

	"github.com/loomline-systems/loomline/internal/models"
)

var (
	ErrItemNotFound  = errors.New("pipeline item not found")
	ErrAlertNotFound = errors.New("alert not found")
)

// PipelineRepository persists pipeline items. SaveItem writes the whole
// aggregate; callers mutate a loaded copy and save it back.
type PipelineRepository interface {
	SaveItem(ctx context.Context, item *models.PipelineItem) error
	GetItem(ctx context.Context, id string) (*models.PipelineItem, error)
	ListItems(ctx context.Context, req *models.ListItemsRequest) ([]*models.PipelineItem, error)
}

// AlertRepository persists alerts.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	CountOpenAlerts(ctx context.Context) (int, error)
}

// JournalRepository records every envelope the module sends or receives.
type JournalRepository interface {
	RecordEvent(ctx context.Context, entry *models.JournalEntry) error
	ListEvents(ctx context.Context, req *models.ListJournalRequest) ([]*models.JournalEntry, error)
}

// Store combines all repositories behind one backend.
type Store interface {
	PipelineRepository
	AlertRepository
	JournalRepository

	Close() error
}
