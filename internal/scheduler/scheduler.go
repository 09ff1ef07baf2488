// Package scheduler runs the background maintenance loops: the validation
// timeout sweep and the stale-discovery scan.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
)

// ValidationSweeper expires overdue validations and trims resolved records.
type ValidationSweeper interface {
	ExpireOverdue(ctx context.Context, now time.Time) int
	PurgeResolved(now time.Time) int
}

// AlertCreator raises operator alerts.
type AlertCreator interface {
	Create(ctx context.Context, req *models.CreateAlertRequest) (*models.Alert, error)
}

// Config configures the scheduler loops.
type Config struct {
	// TimeoutSweepInterval is how often overdue validations are expired.
	TimeoutSweepInterval time.Duration

	// StaleScanInterval is how often discovery items are checked for
	// inactivity.
	StaleScanInterval time.Duration

	// StaleAfter is how long an item may sit in discovery untouched before
	// it is flagged.
	StaleAfter time.Duration
}

// Scheduler manages the periodic maintenance loops.
type Scheduler struct {
	validations ValidationSweeper
	items       repository.PipelineRepository
	alerts      AlertCreator
	logger      *logging.Logger

	sweepInterval time.Duration
	scanInterval  time.Duration
	staleAfter    time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	stats stats
}

type stats struct {
	mu                 sync.RWMutex
	SweepsRun          int64
	ValidationsExpired int64
	RecordsPurged      int64
	ScansRun           int64
	StaleItemsFlagged  int64
	LastSweepTime      time.Time
	LastScanTime       time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(validations ValidationSweeper, items repository.PipelineRepository, alerts AlertCreator, logger *logging.Logger, cfg Config) *Scheduler {
	if cfg.TimeoutSweepInterval <= 0 {
		cfg.TimeoutSweepInterval = time.Minute
	}
	if cfg.StaleScanInterval <= 0 {
		cfg.StaleScanInterval = 7 * 24 * time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * 24 * time.Hour
	}

	return &Scheduler{
		validations:   validations,
		items:         items,
		alerts:        alerts,
		logger:        logger,
		sweepInterval: cfg.TimeoutSweepInterval,
		scanInterval:  cfg.StaleScanInterval,
		staleAfter:    cfg.StaleAfter,
	}
}

// Start begins the maintenance loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("Scheduler starting",
		"sweep_interval", s.sweepInterval,
		"scan_interval", s.scanInterval,
		"stale_after", s.staleAfter)

	s.wg.Add(2)
	go s.runSweep(ctx)
	go s.runScan(ctx)
	return nil
}

// Stop gracefully stops the maintenance loops.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Scheduler) runScan(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	s.ScanStale(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.ScanStale(ctx)
		}
	}
}

// Sweep expires overdue validations and purges resolved records past the
// grace window.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	expired := s.validations.ExpireOverdue(ctx, now)
	purged := s.validations.PurgeResolved(now)

	s.stats.mu.Lock()
	s.stats.SweepsRun++
	s.stats.ValidationsExpired += int64(expired)
	s.stats.RecordsPurged += int64(purged)
	s.stats.LastSweepTime = now
	s.stats.mu.Unlock()

	if expired > 0 || purged > 0 {
		s.logger.InfoContext(ctx, "Validation sweep finished",
			"expired", expired,
			"purged", purged)
	}
}

// ScanStale flags discovery items untouched beyond the stale window with a
// low-severity pipeline-hygiene alert.
func (s *Scheduler) ScanStale(ctx context.Context) {
	now := time.Now().UTC()

	items, err := s.items.ListItems(ctx, &models.ListItemsRequest{
		Stage: models.StageDiscovery,
		Limit: 500,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale scan failed to list items", "error", err)
		return
	}

	flagged := 0
	for _, item := range items {
		idle := now.Sub(item.UpdatedAt)
		if idle < s.staleAfter {
			continue
		}
		_, err := s.alerts.Create(ctx, &models.CreateAlertRequest{
			Severity: models.SeverityLow,
			Category: models.CategoryPipeline,
			Title:    fmt.Sprintf("Stale discovery item: %s", item.Name),
			Message: fmt.Sprintf("Item %s has sat in discovery for %d days without activity",
				item.ID, int(idle.Hours()/24)),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to raise stale-item alert",
				"item_id", item.ID,
				"error", err)
			continue
		}
		flagged++
	}

	s.stats.mu.Lock()
	s.stats.ScansRun++
	s.stats.StaleItemsFlagged += int64(flagged)
	s.stats.LastScanTime = now
	s.stats.mu.Unlock()

	if flagged > 0 {
		s.logger.InfoContext(ctx, "Stale scan finished", "flagged", flagged)
	}
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() map[string]interface{} {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	return map[string]interface{}{
		"sweeps_run":          s.stats.SweepsRun,
		"validations_expired": s.stats.ValidationsExpired,
		"records_purged":      s.stats.RecordsPurged,
		"scans_run":           s.stats.ScansRun,
		"stale_items_flagged": s.stats.StaleItemsFlagged,
		"last_sweep_time":     s.stats.LastSweepTime.Format(time.RFC3339),
		"last_scan_time":      s.stats.LastScanTime.Format(time.RFC3339),
	}
}
