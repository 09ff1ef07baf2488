package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/metrics"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
	"github.com/loomline-systems/loomline/internal/validation"
)

// Publisher is the transport surface the service needs for stage notices.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// Service drives pipeline items through the stage machine. All mutations of
// one item are serialized through a per-item lock; different items proceed
// independently.
type Service struct {
	repo      repository.PipelineRepository
	validator *validation.Orchestrator
	bus       Publisher
	logger    *logging.Logger
	self      string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	consumers sync.WaitGroup
}

// NewService creates a pipeline service.
func NewService(repo repository.PipelineRepository, validator *validation.Orchestrator, bus Publisher, logger *logging.Logger, self string) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		bus:       bus,
		logger:    logger,
		self:      self,
		locks:     make(map[string]*sync.Mutex),
	}
}

// itemLock returns the mutex serializing mutations of one item.
func (s *Service) itemLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create promotes a product idea into the pipeline at the discovery stage.
func (s *Service) Create(ctx context.Context, req *models.CreateItemRequest) (*models.PipelineItem, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	itemUUID, _ := uuid.NewV7()
	now := time.Now().UTC()
	item := &models.PipelineItem{
		ID:           itemUUID.String(),
		Name:         req.Name,
		Description:  req.Description,
		CurrentStage: models.StageDiscovery,
		StageHistory: []models.StageTransition{
			{Stage: models.StageDiscovery, EnteredAt: now, Actor: req.Actor},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	metrics.PipelineTransitions.WithLabelValues(models.StageDiscovery).Inc()
	s.logger.InfoContext(ctx, "Pipeline item created",
		"item_id", item.ID,
		"name", item.Name,
		"actor", req.Actor)

	s.notifyStageChange(ctx, item, req.Actor)
	return item, nil
}

// Get retrieves a pipeline item with its full history.
func (s *Service) Get(ctx context.Context, id string) (*models.PipelineItem, error) {
	return s.repo.GetItem(ctx, id)
}

// List retrieves pipeline items matching the filter.
func (s *Service) List(ctx context.Context, req *models.ListItemsRequest) ([]*models.PipelineItem, error) {
	return s.repo.ListItems(ctx, req)
}

// Advance moves an item to the next stage in order. The current stage's
// gate must be fully approved; a rejection or timeout holds the item until
// a human clears it.
func (s *Service) Advance(ctx context.Context, id, actor string) (*models.PipelineItem, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	item, err := s.advance(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	// Notices go out after the lock is released: the transition is already
	// persisted and a slow delivery must not stall other callers.
	s.notifyStageChange(ctx, item, actor)
	return item, nil
}

func (s *Service) advance(ctx context.Context, id, actor string) (*models.PipelineItem, error) {
	lock := s.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalStage(item.CurrentStage) {
		return nil, fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, id, item.CurrentStage)
	}
	if item.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrValidationRejected, item.BlockedReason)
	}
	if len(item.Rejections) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationRejected, strings.Join(item.Rejections, ", "))
	}
	if missing := missingApprovals(item); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s gate waiting on %s",
			ErrInvalidTransition, item.CurrentStage, strings.Join(missing, ", "))
	}

	next, err := NextStage(item.CurrentStage)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item.CurrentStage = next
	item.StageHistory = append(item.StageHistory, models.StageTransition{
		Stage:     next,
		EnteredAt: now,
		Actor:     actor,
	})
	item.PendingValidationIDs = nil
	item.Approvals = nil
	item.Rejections = nil
	item.UpdatedAt = now

	s.issueValidations(ctx, item)

	if err := s.repo.SaveItem(ctx, item); err != nil {
		// Unwind the issued requests so a late response cannot act on a
		// transition that never persisted.
		s.validator.CancelItem(ctx, id)
		return nil, err
	}

	metrics.PipelineTransitions.WithLabelValues(next).Inc()
	s.logger.InfoContext(ctx, "Pipeline item advanced",
		"item_id", id,
		"stage", next,
		"actor", actor)
	return item, nil
}

// Validate issues the current stage's gate validations that are not already
// pending or approved. Used to re-issue after a human clears a rejection.
func (s *Service) Validate(ctx context.Context, id string) (*models.PipelineItem, error) {
	lock := s.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalStage(item.CurrentStage) {
		return nil, fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, id, item.CurrentStage)
	}
	if item.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrValidationRejected, item.BlockedReason)
	}
	if len(item.Rejections) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationRejected, strings.Join(item.Rejections, ", "))
	}

	before := len(item.PendingValidationIDs)
	s.issueValidations(ctx, item)
	if len(item.PendingValidationIDs) == before {
		return item, nil
	}

	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveItem(ctx, item); err != nil {
		s.validator.CancelItem(ctx, id)
		return nil, err
	}
	return item, nil
}

// RecordValidationResult applies one validation outcome to an item. Invoked
// from the outcome-consumer goroutine, never from transport callbacks.
// Outcomes for terminal items or superseded exchanges are discarded so a
// late response cannot resurrect a dead item.
func (s *Service) RecordValidationResult(ctx context.Context, itemID string, outcome validation.Outcome) error {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	if models.IsTerminalStage(item.CurrentStage) ||
		!containsString(item.PendingValidationIDs, outcome.CorrelationID) {
		s.logger.DebugContext(ctx, "Validation outcome discarded",
			"item_id", itemID,
			"correlation_id", outcome.CorrelationID,
			"state", outcome.State)
		return nil
	}

	switch outcome.State {
	case models.ValidationApproved, models.ValidationRejected, models.ValidationTimedOut:
	default:
		return nil
	}

	item.PendingValidationIDs = removeString(item.PendingValidationIDs, outcome.CorrelationID)

	switch outcome.State {
	case models.ValidationApproved:
		if !containsString(item.Approvals, outcome.RequestType) {
			item.Approvals = append(item.Approvals, outcome.RequestType)
		}
	case models.ValidationRejected:
		if !containsString(item.Rejections, outcome.RequestType) {
			item.Rejections = append(item.Rejections, outcome.RequestType)
		}
		metrics.PipelineBlocked.Inc()
	case models.ValidationTimedOut:
		item.Blocked = true
		item.BlockedReason = fmt.Sprintf("%s timed out waiting for a response", outcome.RequestType)
		metrics.PipelineBlocked.Inc()
	}
	item.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveItem(ctx, item); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Validation outcome recorded",
		"item_id", itemID,
		"request_type", outcome.RequestType,
		"state", outcome.State,
		"responded_by", outcome.RespondedBy)
	return nil
}

// Cancel moves a non-terminal item to cancelled and releases its pending
// validations.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*models.PipelineItem, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	item, err := s.cancel(ctx, id, actor, reason)
	if err != nil {
		return nil, err
	}

	s.notifyStageChange(ctx, item, actor)
	return item, nil
}

func (s *Service) cancel(ctx context.Context, id, actor, reason string) (*models.PipelineItem, error) {
	lock := s.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalStage(item.CurrentStage) {
		return nil, fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, id, item.CurrentStage)
	}

	now := time.Now().UTC()
	item.CurrentStage = models.StageCancelled
	item.StageHistory = append(item.StageHistory, models.StageTransition{
		Stage:     models.StageCancelled,
		EnteredAt: now,
		Actor:     actor,
		Note:      reason,
	})
	item.PendingValidationIDs = nil
	item.UpdatedAt = now

	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	released := s.validator.CancelItem(ctx, id)

	metrics.PipelineTransitions.WithLabelValues(models.StageCancelled).Inc()
	s.logger.InfoContext(ctx, "Pipeline item cancelled",
		"item_id", id,
		"actor", actor,
		"reason", reason,
		"validations_released", released)
	return item, nil
}

// SetStage is the administrative override: it moves an item to an arbitrary
// non-terminal stage, recorded distinctly in history. Outstanding validation
// exchanges are released and the target stage's gate is issued fresh.
func (s *Service) SetStage(ctx context.Context, id, stage, actor, note string) (*models.PipelineItem, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	if !models.ValidStage(stage) {
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}
	if models.IsTerminalStage(stage) {
		return nil, fmt.Errorf("%w: cannot override to %s, use advance or cancel", ErrInvalidTransition, stage)
	}

	item, err := s.setStage(ctx, id, stage, actor, note)
	if err != nil {
		return nil, err
	}

	s.notifyStageChange(ctx, item, actor)
	return item, nil
}

func (s *Service) setStage(ctx context.Context, id, stage, actor, note string) (*models.PipelineItem, error) {
	lock := s.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	s.validator.CancelItem(ctx, id)

	now := time.Now().UTC()
	item.CurrentStage = stage
	item.StageHistory = append(item.StageHistory, models.StageTransition{
		Stage:     stage,
		EnteredAt: now,
		Actor:     actor,
		Override:  true,
		Note:      note,
	})
	item.PendingValidationIDs = nil
	item.Approvals = nil
	item.Rejections = nil
	item.Blocked = false
	item.BlockedReason = ""
	item.UpdatedAt = now

	s.issueValidations(ctx, item)

	if err := s.repo.SaveItem(ctx, item); err != nil {
		s.validator.CancelItem(ctx, id)
		return nil, err
	}

	metrics.PipelineTransitions.WithLabelValues(stage).Inc()
	s.logger.InfoContext(ctx, "Pipeline item stage overridden",
		"item_id", id,
		"stage", stage,
		"actor", actor,
		"note", note)
	return item, nil
}

// ClearRejection is the human acknowledgment that unblocks a rejected or
// timed-out item. Approvals already granted are kept; call Validate to
// re-issue the missing checks.
func (s *Service) ClearRejection(ctx context.Context, id, actor string) (*models.PipelineItem, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	lock := s.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalStage(item.CurrentStage) {
		return nil, fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, id, item.CurrentStage)
	}

	if !item.Blocked && len(item.Rejections) == 0 {
		return item, nil
	}

	now := time.Now().UTC()
	item.Blocked = false
	item.BlockedReason = ""
	item.Rejections = nil
	item.StageHistory = append(item.StageHistory, models.StageTransition{
		Stage:     item.CurrentStage,
		EnteredAt: now,
		Actor:     actor,
		Note:      "rejection cleared",
	})
	item.UpdatedAt = now

	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Pipeline item unblocked",
		"item_id", id,
		"actor", actor)
	return item, nil
}

// issueValidations requests the current stage's gate validations that are
// neither approved nor already in flight. Caller holds the item lock. A
// request that cannot be issued is logged; Validate re-issues it later.
func (s *Service) issueValidations(ctx context.Context, item *models.PipelineItem) {
	required := RequiredValidations(item.CurrentStage)
	if len(required) == 0 {
		return
	}

	inFlight := make(map[string]bool)
	for _, correlationID := range item.PendingValidationIDs {
		if snapshot, err := s.validator.Get(correlationID); err == nil {
			inFlight[snapshot.RequestType] = true
		}
	}

	for _, requestType := range required {
		if containsString(item.Approvals, requestType) || inFlight[requestType] {
			continue
		}
		handle, err := s.validator.Request(ctx, item.ID, requestType, requestNotice(requestType, item), 0)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to issue validation",
				"item_id", item.ID,
				"request_type", requestType,
				"error", err)
			continue
		}
		item.PendingValidationIDs = append(item.PendingValidationIDs, handle.CorrelationID)
		s.consumers.Add(1)
		go s.consumeOutcome(item.ID, handle)
	}
}

// consumeOutcome waits for one validation outcome and records it on the
// item. Cancellation releases the handle without touching the item.
func (s *Service) consumeOutcome(itemID string, handle *validation.Handle) {
	defer s.consumers.Done()

	outcome := <-handle.Done()
	if outcome.State == validation.OutcomeCancelled {
		return
	}

	if err := s.RecordValidationResult(context.Background(), itemID, outcome); err != nil {
		s.logger.Error("Failed to record validation outcome",
			"item_id", itemID,
			"correlation_id", outcome.CorrelationID,
			"state", outcome.State,
			"error", err)
	}
}

// Close waits for outstanding outcome consumers to finish. Close the
// validation orchestrator first so every handle is released.
func (s *Service) Close() {
	s.consumers.Wait()
}
