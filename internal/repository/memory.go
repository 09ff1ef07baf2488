package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomline-systems/loomline/internal/models"
)

// MemoryStore implements Store with in-process maps. It backs unit tests
// and single-node development deployments. Values are copied on the way in
// and out so callers can mutate loaded aggregates freely.
type MemoryStore struct {
	items   map[string]*models.PipelineItem
	alerts  map[string]*models.Alert
	journal []*models.JournalEntry
	nextID  int64
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]*models.PipelineItem),
		alerts: make(map[string]*models.Alert),
		nextID: 1,
	}
}

// =============================================================================
// Pipeline items
// =============================================================================

func (s *MemoryStore) SaveItem(ctx context.Context, item *models.PipelineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id string) (*models.PipelineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) ListItems(ctx context.Context, req *models.ListItemsRequest) ([]*models.PipelineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []*models.PipelineItem{}
	for _, item := range s.items {
		if req.Stage != "" && item.CurrentStage != req.Stage {
			continue
		}
		if req.Blocked != nil && item.Blocked != *req.Blocked {
			continue
		}
		items = append(items, cloneItem(item))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// =============================================================================
// Alerts
// =============================================================================

func (s *MemoryStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.alerts[id]
	if !exists {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(alert), nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := []*models.Alert{}
	for _, alert := range s.alerts {
		if req.Status != "" && alert.Status != req.Status {
			continue
		}
		if req.Severity != "" && alert.Severity != req.Severity {
			continue
		}
		if req.Category != "" && alert.Category != req.Category {
			continue
		}
		alerts = append(alerts, cloneAlert(alert))
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}

	return alerts, nil
}

func (s *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[id]; !exists {
		return ErrAlertNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *MemoryStore) CountOpenAlerts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, alert := range s.alerts {
		if alert.Status == models.AlertStatusOpen {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// Event journal
// =============================================================================

func (s *MemoryStore) RecordEvent(ctx context.Context, entry *models.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ID = s.nextID
	s.nextID++

	stored := *entry
	s.journal = append(s.journal, &stored)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, req *models.ListJournalRequest) ([]*models.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*models.JournalEntry{}
	for i := len(s.journal) - 1; i >= 0; i-- {
		entry := s.journal[i]
		if req.Direction != "" && entry.Direction != req.Direction {
			continue
		}
		if req.Module != "" && entry.Module != req.Module {
			continue
		}
		if req.EventType != "" && entry.EventType != req.EventType {
			continue
		}
		copied := *entry
		entries = append(entries, &copied)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// =============================================================================
// Copy helpers
// =============================================================================

func cloneItem(item *models.PipelineItem) *models.PipelineItem {
	copied := *item
	copied.StageHistory = append([]models.StageTransition(nil), item.StageHistory...)
	copied.PendingValidationIDs = append([]string(nil), item.PendingValidationIDs...)
	copied.Approvals = append([]string(nil), item.Approvals...)
	copied.Rejections = append([]string(nil), item.Rejections...)
	return &copied
}

func cloneAlert(alert *models.Alert) *models.Alert {
	copied := *alert
	if alert.SourceEvent != nil {
		env := *alert.SourceEvent
		copied.SourceEvent = &env
	}
	if alert.ResolvedAt != nil {
		at := *alert.ResolvedAt
		copied.ResolvedAt = &at
	}
	return &copied
}
