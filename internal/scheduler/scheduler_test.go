package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
)

type mockSweeper struct {
	mu      sync.Mutex
	expires int
	purges  int
	expired int
	purged  int
}

func (m *mockSweeper) ExpireOverdue(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires++
	return m.expired
}

func (m *mockSweeper) PurgeResolved(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return m.purged
}

func (m *mockSweeper) expireCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expires
}

type mockAlerts struct {
	mu      sync.Mutex
	created []*models.CreateAlertRequest
	err     error
}

func (m *mockAlerts) Create(ctx context.Context, req *models.CreateAlertRequest) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.created = append(m.created, req)
	return &models.Alert{ID: "alert-1", Severity: req.Severity, Title: req.Title}, nil
}

func (m *mockAlerts) createdAlerts() []*models.CreateAlertRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CreateAlertRequest(nil), m.created...)
}

func seedItem(t *testing.T, store *repository.MemoryStore, id, stage string, updatedAt time.Time) {
	t.Helper()
	err := store.SaveItem(context.Background(), &models.PipelineItem{
		ID:           id,
		Name:         "Item " + id,
		CurrentStage: stage,
		StageHistory: []models.StageTransition{{Stage: stage, EnteredAt: updatedAt, Actor: "test"}},
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	sweeper := &mockSweeper{}
	store := repository.NewMemoryStore()
	alerts := &mockAlerts{}

	s := NewScheduler(sweeper, store, alerts, logging.Default(), Config{
		TimeoutSweepInterval: 50 * time.Millisecond,
		StaleScanInterval:    time.Hour,
		StaleAfter:           time.Hour,
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("expected error starting a running scheduler")
	}

	time.Sleep(180 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("failed to stop scheduler: %v", err)
	}
	if err := s.Stop(); err == nil {
		t.Fatal("expected error stopping a stopped scheduler")
	}

	// One immediate sweep plus at least two ticks.
	if calls := sweeper.expireCalls(); calls < 3 {
		t.Fatalf("expected at least 3 sweeps, got %d", calls)
	}
}

func TestSchedulerSweepStats(t *testing.T) {
	sweeper := &mockSweeper{expired: 2, purged: 5}
	s := NewScheduler(sweeper, repository.NewMemoryStore(), &mockAlerts{}, logging.Default(), Config{})

	s.Sweep(context.Background())
	s.Sweep(context.Background())

	stats := s.Stats()
	if got := stats["sweeps_run"].(int64); got != 2 {
		t.Errorf("sweeps_run = %d, want 2", got)
	}
	if got := stats["validations_expired"].(int64); got != 4 {
		t.Errorf("validations_expired = %d, want 4", got)
	}
	if got := stats["records_purged"].(int64); got != 10 {
		t.Errorf("records_purged = %d, want 10", got)
	}
}

func TestSchedulerScanStale(t *testing.T) {
	store := repository.NewMemoryStore()
	alerts := &mockAlerts{}
	now := time.Now().UTC()

	// Stale discovery item, fresh discovery item, and an old item that
	// already moved on.
	seedItem(t, store, "stale-1", models.StageDiscovery, now.Add(-40*24*time.Hour))
	seedItem(t, store, "fresh-1", models.StageDiscovery, now.Add(-time.Hour))
	seedItem(t, store, "moved-1", models.StageConcept, now.Add(-60*24*time.Hour))

	s := NewScheduler(&mockSweeper{}, store, alerts, logging.Default(), Config{
		StaleAfter: 30 * 24 * time.Hour,
	})

	s.ScanStale(context.Background())

	created := alerts.createdAlerts()
	if len(created) != 1 {
		t.Fatalf("expected 1 stale alert, got %d", len(created))
	}
	alert := created[0]
	if alert.Severity != models.SeverityLow {
		t.Errorf("severity = %s, want low", alert.Severity)
	}
	if alert.Category != models.CategoryPipeline {
		t.Errorf("category = %s, want pipeline", alert.Category)
	}
	if !strings.Contains(alert.Title, "Item stale-1") {
		t.Errorf("title %q does not name the stale item", alert.Title)
	}

	stats := s.Stats()
	if got := stats["stale_items_flagged"].(int64); got != 1 {
		t.Errorf("stale_items_flagged = %d, want 1", got)
	}
	if got := stats["scans_run"].(int64); got != 1 {
		t.Errorf("scans_run = %d, want 1", got)
	}
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(&mockSweeper{}, repository.NewMemoryStore(), &mockAlerts{}, logging.Default(), Config{})

	if s.sweepInterval != time.Minute {
		t.Errorf("sweep interval = %s, want 1m", s.sweepInterval)
	}
	if s.scanInterval != 7*24*time.Hour {
		t.Errorf("scan interval = %s, want 168h", s.scanInterval)
	}
	if s.staleAfter != 30*24*time.Hour {
		t.Errorf("stale after = %s, want 720h", s.staleAfter)
	}
}
