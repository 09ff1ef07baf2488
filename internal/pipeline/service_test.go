package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
	"github.com/loomline-systems/loomline/internal/validation"
)

type stubBus struct {
	mu        sync.Mutex
	published []*events.Envelope
	received  []*events.Envelope
}

func (b *stubBus) Publish(ctx context.Context, env *events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *stubBus) Receive(ctx context.Context, env *events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, env)
	return nil
}

func (b *stubBus) publishedByType(kind string) []*events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*events.Envelope
	for _, env := range b.published {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

func (b *stubBus) receivedByType(kind string) []*events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*events.Envelope
	for _, env := range b.received {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *validation.Orchestrator, *stubBus, *repository.MemoryStore) {
	t.Helper()

	bus := &stubBus{}
	orch := validation.NewOrchestrator(validation.Config{
		Self:    events.ModuleDesign,
		Timeout: time.Hour,
		Grace:   time.Minute,
	}, bus, logging.Default())
	store := repository.NewMemoryStore()
	svc := NewService(store, orch, bus, logging.Default(), events.ModuleDesign)

	t.Cleanup(func() {
		orch.Close()
		svc.Close()
	})
	return svc, orch, bus, store
}

func createItem(t *testing.T, svc *Service, name string) *models.PipelineItem {
	t.Helper()
	item, err := svc.Create(context.Background(), &models.CreateItemRequest{
		Name:  name,
		Actor: "test",
	})
	require.NoError(t, err)
	return item
}

// resolveByType answers the item's waiting validation of one request type.
func resolveByType(t *testing.T, orch *validation.Orchestrator, itemID, requestType string, approved bool, reason string) {
	t.Helper()
	for _, pv := range orch.Pending() {
		if pv.PipelineItemID == itemID && pv.RequestType == requestType {
			require.NoError(t, orch.Resolve(context.Background(), pv.CorrelationID,
				events.Verdict{Approved: approved, Reason: reason, RespondedBy: "test"}))
			return
		}
	}
	t.Fatalf("no waiting %s for item %s", requestType, itemID)
}

// approveGate approves every waiting validation for the item and waits for
// the outcomes to land on the stored item.
func approveGate(t *testing.T, orch *validation.Orchestrator, store *repository.MemoryStore, itemID string) {
	t.Helper()
	for _, pv := range orch.Pending() {
		if pv.PipelineItemID != itemID {
			continue
		}
		require.NoError(t, orch.Resolve(context.Background(), pv.CorrelationID,
			events.Verdict{Approved: true, RespondedBy: "test"}))
	}
	require.Eventually(t, func() bool {
		item, err := store.GetItem(context.Background(), itemID)
		return err == nil && len(item.PendingValidationIDs) == 0
	}, time.Second, 5*time.Millisecond)
}

// walkTo advances the item stage by stage, approving gates as they come up.
func walkTo(t *testing.T, svc *Service, orch *validation.Orchestrator, store *repository.MemoryStore, itemID, target string) {
	t.Helper()
	for i := 0; i < 20; i++ {
		item, err := store.GetItem(context.Background(), itemID)
		require.NoError(t, err)
		if item.CurrentStage == target {
			return
		}
		if len(item.PendingValidationIDs) > 0 {
			approveGate(t, orch, store, itemID)
		}
		_, err = svc.Advance(context.Background(), itemID, "test")
		require.NoError(t, err)
	}
	t.Fatalf("item %s never reached %s", itemID, target)
}

// gatedBus blocks Publish on demand so tests can observe what the service
// does while a notice delivery is still in flight.
type gatedBus struct {
	stubBus
	blocking atomic.Bool
	entered  chan struct{}
	release  chan struct{}
}

func (b *gatedBus) Publish(ctx context.Context, env *events.Envelope) error {
	if b.blocking.Load() {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.stubBus.Publish(ctx, env)
}

func TestService_NoticesPublishedOutsideItemLock(t *testing.T) {
	bus := &gatedBus{entered: make(chan struct{}, 8), release: make(chan struct{})}
	var releaseOnce sync.Once
	releaseBus := func() { releaseOnce.Do(func() { close(bus.release) }) }
	t.Cleanup(releaseBus)

	orch := validation.NewOrchestrator(validation.Config{
		Self:    events.ModuleDesign,
		Timeout: time.Hour,
		Grace:   time.Minute,
	}, bus, logging.Default())
	store := repository.NewMemoryStore()
	svc := NewService(store, orch, bus, logging.Default(), events.ModuleDesign)
	t.Cleanup(func() {
		orch.Close()
		svc.Close()
	})

	item := createItem(t, svc, "hemp tote")
	bus.blocking.Store(true)

	advanced := make(chan error, 1)
	go func() {
		_, err := svc.Advance(context.Background(), item.ID, "test")
		advanced <- err
	}()

	select {
	case <-bus.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the stage notice to be publishing")
	}

	// The transition is persisted and the item lock released while the
	// notice is still in flight; another caller must not be stalled.
	cleared := make(chan error, 1)
	go func() {
		_, err := svc.ClearRejection(context.Background(), item.ID, "test")
		cleared <- err
	}()
	select {
	case err := <-cleared:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("item lock held during notice delivery")
	}

	stored, err := store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageConcept, stored.CurrentStage)

	bus.blocking.Store(false)
	releaseBus()
	require.NoError(t, <-advanced)
}

func TestService_Create(t *testing.T) {
	svc, _, bus, store := newTestService(t)

	item, err := svc.Create(context.Background(), &models.CreateItemRequest{
		Name:        "Quilted Liner Jacket",
		Description: "Fall capsule",
		Actor:       "rivera",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, models.StageDiscovery, item.CurrentStage)
	require.Len(t, item.StageHistory, 1)
	assert.Equal(t, models.StageDiscovery, item.StageHistory[0].Stage)
	assert.Equal(t, "rivera", item.StageHistory[0].Actor)
	assert.False(t, item.Blocked)

	stored, err := store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, stored.Name)

	notices := bus.publishedByType(events.KindPipelineUpdated)
	require.Len(t, notices, 1)
	assert.Equal(t, events.ModuleExecutive, notices[0].TargetModule)
	assert.Equal(t, item.ID, notices[0].Payload["pipelineItemId"])
	assert.Equal(t, models.StageDiscovery, notices[0].Payload["stage"])
}

func TestService_Create_RequiredFields(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), &models.CreateItemRequest{Actor: "test"})
	require.ErrorContains(t, err, "name is required")

	_, err = svc.Create(context.Background(), &models.CreateItemRequest{Name: "Jacket"})
	require.ErrorContains(t, err, "actor is required")
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestService_Advance_Ungated(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	item := createItem(t, svc, "Cord Overshirt")

	advanced, err := svc.Advance(context.Background(), item.ID, "rivera")
	require.NoError(t, err)

	assert.Equal(t, models.StageConcept, advanced.CurrentStage)
	require.Len(t, advanced.StageHistory, 2)
	assert.Equal(t, models.StageConcept, advanced.StageHistory[1].Stage)
	assert.False(t, advanced.StageHistory[1].Override)
	assert.Empty(t, advanced.PendingValidationIDs)
}

func TestService_Advance_IssuesGateValidations(t *testing.T) {
	svc, orch, bus, _ := newTestService(t)
	item := createItem(t, svc, "Twill Trouser")

	_, err := svc.Advance(context.Background(), item.ID, "test")
	require.NoError(t, err)
	advanced, err := svc.Advance(context.Background(), item.ID, "test")
	require.NoError(t, err)

	assert.Equal(t, models.StageValidation, advanced.CurrentStage)
	assert.Len(t, advanced.PendingValidationIDs, 2)

	pending := orch.Pending()
	require.Len(t, pending, 2)
	types := map[string]bool{}
	for _, pv := range pending {
		assert.Equal(t, item.ID, pv.PipelineItemID)
		types[pv.RequestType] = true
	}
	assert.True(t, types[models.ValidationMarginCheck])
	assert.True(t, types[models.ValidationCapacityCheck])

	margin := bus.publishedByType(events.KindMarginCheckRequest)
	require.Len(t, margin, 1)
	assert.Equal(t, events.ModuleFinance, margin[0].TargetModule)
	assert.Equal(t, item.ID, margin[0].Payload["productId"])

	capacity := bus.publishedByType(events.KindCapacityCheckRequest)
	require.Len(t, capacity, 1)
	assert.Equal(t, events.ModuleOperations, capacity[0].TargetModule)
}

func TestService_Advance_GateStillWaiting(t *testing.T) {
	svc, _, _, store := newTestService(t)
	item := createItem(t, svc, "Boiled Wool Beanie")

	_, err := svc.Advance(context.Background(), item.ID, "test")
	require.NoError(t, err)
	_, err = svc.Advance(context.Background(), item.ID, "test")
	require.NoError(t, err)

	// Both gate checks are still waiting; the item may not move.
	_, err = svc.Advance(context.Background(), item.ID, "test")
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageValidation, stored.CurrentStage)
	assert.Len(t, stored.StageHistory, 3)
}

func TestService_Advance_GateApproved(t *testing.T) {
	svc, orch, bus, store := newTestService(t)
	item := createItem(t, svc, "Selvedge Jean")

	walkTo(t, svc, orch, store, item.ID, models.StageValidation)
	approveGate(t, orch, store, item.ID)

	advanced, err := svc.Advance(context.Background(), item.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, models.StageApproval, advanced.CurrentStage)

	// Entering approval issues the executive sign-off.
	requests := bus.publishedByType(events.KindProductApprovalRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, events.ModuleExecutive, requests[0].TargetModule)
	assert.Len(t, advanced.PendingValidationIDs, 1)
}

func TestService_Rejection_BlocksUntilCleared(t *testing.T) {
	svc, orch, _, store := newTestService(t)
	item := createItem(t, svc, "Camp Collar Shirt")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageValidation)

	resolveByType(t, orch, item.ID, models.ValidationCapacityCheck, true, "")
	resolveByType(t, orch, item.ID, models.ValidationMarginCheck, false, "margin below floor")

	require.Eventually(t, func() bool {
		stored, err := store.GetItem(ctx, item.ID)
		return err == nil && len(stored.Rejections) == 1 && len(stored.PendingValidationIDs) == 0
	}, time.Second, 5*time.Millisecond)

	stored, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ValidationCapacityCheck}, stored.Approvals)
	assert.Equal(t, []string{models.ValidationMarginCheck}, stored.Rejections)
	assert.False(t, stored.Blocked)

	_, err = svc.Advance(ctx, item.ID, "test")
	require.ErrorIs(t, err, ErrValidationRejected)

	cleared, err := svc.ClearRejection(ctx, item.ID, "rivera")
	require.NoError(t, err)
	assert.Empty(t, cleared.Rejections)
	assert.Equal(t, []string{models.ValidationCapacityCheck}, cleared.Approvals)
	last := cleared.StageHistory[len(cleared.StageHistory)-1]
	assert.Equal(t, models.StageValidation, last.Stage)
	assert.Equal(t, "rejection cleared", last.Note)

	// The margin check is still unapproved, so the gate keeps holding.
	_, err = svc.Advance(ctx, item.ID, "test")
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Re-validate issues only the missing check.
	revalidated, err := svc.Validate(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, revalidated.PendingValidationIDs, 1)
	pending := orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.ValidationMarginCheck, pending[0].RequestType)

	resolveByType(t, orch, item.ID, models.ValidationMarginCheck, true, "revised costing")
	require.Eventually(t, func() bool {
		stored, err := store.GetItem(ctx, item.ID)
		return err == nil && len(stored.Approvals) == 2
	}, time.Second, 5*time.Millisecond)

	advanced, err := svc.Advance(ctx, item.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, models.StageApproval, advanced.CurrentStage)
}

func TestService_Timeout_BlocksItem(t *testing.T) {
	svc, orch, bus, store := newTestService(t)
	item := createItem(t, svc, "Moleskin Chore Coat")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageValidation)

	expired := orch.ExpireOverdue(ctx, time.Now().UTC().Add(2*time.Hour))
	assert.Equal(t, 2, expired)

	require.Eventually(t, func() bool {
		stored, err := store.GetItem(ctx, item.ID)
		return err == nil && stored.Blocked && len(stored.PendingValidationIDs) == 0
	}, time.Second, 5*time.Millisecond)

	stored, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.BlockedReason, "timed out")

	// The timeouts surface locally for the alert manager.
	assert.Len(t, bus.receivedByType(events.KindValidationTimedOut), 2)

	_, err = svc.Advance(ctx, item.ID, "test")
	require.ErrorIs(t, err, ErrValidationRejected)

	_, err = svc.Validate(ctx, item.ID)
	require.ErrorIs(t, err, ErrValidationRejected)

	cleared, err := svc.ClearRejection(ctx, item.ID, "rivera")
	require.NoError(t, err)
	assert.False(t, cleared.Blocked)
	assert.Empty(t, cleared.BlockedReason)

	revalidated, err := svc.Validate(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, revalidated.PendingValidationIDs, 2)
}

func TestService_Cancel_ReleasesValidations(t *testing.T) {
	svc, orch, bus, store := newTestService(t)
	item := createItem(t, svc, "Herringbone Scarf")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageValidation)
	require.Len(t, orch.Pending(), 2)

	var corrID string
	for _, pv := range orch.Pending() {
		corrID = pv.CorrelationID
	}

	cancelled, err := svc.Cancel(ctx, item.ID, "rivera", "line dropped for the season")
	require.NoError(t, err)

	assert.Equal(t, models.StageCancelled, cancelled.CurrentStage)
	assert.Empty(t, cancelled.PendingValidationIDs)
	last := cancelled.StageHistory[len(cancelled.StageHistory)-1]
	assert.Equal(t, models.StageCancelled, last.Stage)
	assert.Equal(t, "line dropped for the season", last.Note)

	assert.Empty(t, orch.Pending())

	// A late response cannot resurrect the dead item.
	err = orch.Resolve(ctx, corrID, events.Verdict{Approved: true, RespondedBy: "late"})
	require.ErrorIs(t, err, validation.ErrValidationNotFound)

	stored, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, stored.CurrentStage)
	assert.Empty(t, stored.Approvals)

	notices := bus.publishedByType(events.KindPipelineUpdated)
	assert.Equal(t, models.StageCancelled, notices[len(notices)-1].Payload["stage"])
}

func TestService_Cancel_Terminal(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	item := createItem(t, svc, "Deck Jacket")
	ctx := context.Background()

	_, err := svc.Cancel(ctx, item.ID, "rivera", "first")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, item.ID, "rivera", "second")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_SetStage_Override(t *testing.T) {
	svc, orch, _, store := newTestService(t)
	item := createItem(t, svc, "Garment-Dyed Tee")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageApproval)

	// Rework: send the item back to concept.
	reworked, err := svc.SetStage(ctx, item.ID, models.StageConcept, "rivera", "fit issues in sampling")
	require.NoError(t, err)

	assert.Equal(t, models.StageConcept, reworked.CurrentStage)
	last := reworked.StageHistory[len(reworked.StageHistory)-1]
	assert.True(t, last.Override)
	assert.Equal(t, "fit issues in sampling", last.Note)
	assert.Empty(t, reworked.Approvals)
	assert.Empty(t, reworked.PendingValidationIDs)

	// The approval gate's exchange was released with the override.
	assert.Empty(t, orch.Pending())

	// Overriding into a gated stage issues its gate fresh.
	gated, err := svc.SetStage(ctx, item.ID, models.StageValidation, "rivera", "")
	require.NoError(t, err)
	assert.Len(t, gated.PendingValidationIDs, 2)
	assert.Len(t, orch.Pending(), 2)
}

func TestService_SetStage_Rejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	item := createItem(t, svc, "Rugby Pullover")
	ctx := context.Background()

	_, err := svc.SetStage(ctx, item.ID, models.StageComplete, "rivera", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStage(ctx, item.ID, models.StageCancelled, "rivera", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStage(ctx, item.ID, "sampling", "rivera", "")
	require.ErrorContains(t, err, "unknown stage")
}

func TestService_HandoffAndCompleteFanout(t *testing.T) {
	svc, orch, bus, store := newTestService(t)
	item := createItem(t, svc, "Waxed Field Parka")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageHandoff)

	handoffNotices := []struct {
		kind   string
		target string
	}{
		{events.KindTechPackReady, events.ModuleOperations},
		{events.KindPatternReady, events.ModuleOperations},
		{events.KindProductRecommendation, events.ModuleMarketing},
		{events.KindDemandForecast, events.ModuleFinance},
	}
	for _, want := range handoffNotices {
		got := bus.publishedByType(want.kind)
		require.Len(t, got, 1, want.kind)
		assert.Equal(t, want.target, got[0].TargetModule, want.kind)
		assert.Equal(t, item.ID, got[0].Payload["pipelineItemId"], want.kind)
	}

	completed, err := svc.Advance(ctx, item.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, completed.CurrentStage)

	completionNotices := []struct {
		kind   string
		target string
	}{
		{events.KindProductApprovedForProduction, events.ModuleOperations},
		{events.KindProductBudgetAllocated, events.ModuleFinance},
		{events.KindProductLaunchScheduled, events.ModuleMarketing},
	}
	for _, want := range completionNotices {
		got := bus.publishedByType(want.kind)
		require.Len(t, got, 1, want.kind)
		assert.Equal(t, want.target, got[0].TargetModule, want.kind)
	}

	// Creation plus six advances, one executive notice each.
	assert.Len(t, bus.publishedByType(events.KindPipelineUpdated), 7)

	_, err = svc.Advance(ctx, item.ID, "test")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_ConcurrentAdvance_SingleWinner(t *testing.T) {
	svc, orch, _, store := newTestService(t)
	item := createItem(t, svc, "Donegal Crewneck")
	ctx := context.Background()

	walkTo(t, svc, orch, store, item.ID, models.StageValidation)
	approveGate(t, orch, store, item.ID)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Advance(ctx, item.ID, "racer")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins)

	stored, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageApproval, stored.CurrentStage)
	// discovery, concept, validation, approval: exactly one transition won.
	assert.Len(t, stored.StageHistory, 4)
}

func TestService_RecordValidationResult_StaleDiscarded(t *testing.T) {
	svc, _, _, store := newTestService(t)
	item := createItem(t, svc, "Pique Polo")
	ctx := context.Background()

	err := svc.RecordValidationResult(ctx, item.ID, validation.Outcome{
		CorrelationID: "long-gone",
		ItemID:        item.ID,
		RequestType:   models.ValidationMarginCheck,
		State:         models.ValidationApproved,
	})
	require.NoError(t, err)

	stored, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Approvals)
}

// Stage history stays non-decreasing in stage order under arbitrary
// operation sequences; only cancellations and administrative overrides may
// move backward, and both are recorded as such.
func TestService_StageHistoryNonDecreasing(t *testing.T) {
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		bus := &stubBus{}
		orch := validation.NewOrchestrator(validation.Config{
			Self:    events.ModuleDesign,
			Timeout: time.Hour,
			Grace:   time.Minute,
		}, bus, logging.Default())
		store := repository.NewMemoryStore()
		svc := NewService(store, orch, bus, logging.Default(), events.ModuleDesign)
		defer svc.Close()
		defer orch.Close()

		item, err := svc.Create(ctx, &models.CreateItemRequest{Name: "Rapid Item", Actor: "rapid"})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		id := item.ID

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{
				"advance", "approve", "reject", "timeout", "clear", "cancel", "override",
			}).Draw(rt, fmt.Sprintf("op%d", i))

			current, err := store.GetItem(ctx, id)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}

			switch op {
			case "advance":
				_, _ = svc.Advance(ctx, id, "rapid")
			case "approve", "reject", "timeout":
				if len(current.PendingValidationIDs) == 0 {
					continue
				}
				corrID := current.PendingValidationIDs[0]
				snapshot, err := orch.Get(corrID)
				if err != nil {
					continue
				}
				state := models.ValidationApproved
				switch op {
				case "reject":
					state = models.ValidationRejected
				case "timeout":
					state = models.ValidationTimedOut
				}
				_ = svc.RecordValidationResult(ctx, id, validation.Outcome{
					CorrelationID: corrID,
					ItemID:        id,
					RequestType:   snapshot.RequestType,
					State:         state,
				})
			case "clear":
				_, _ = svc.ClearRejection(ctx, id, "rapid")
			case "cancel":
				_, _ = svc.Cancel(ctx, id, "rapid", "rapid")
			case "override":
				stage := rapid.SampledFrom(models.StageOrder[:len(models.StageOrder)-1]).Draw(rt, "stage")
				_, _ = svc.SetStage(ctx, id, stage, "rapid", "rework")
			}
		}

		final, err := store.GetItem(ctx, id)
		if err != nil {
			rt.Fatalf("final get: %v", err)
		}

		history := final.StageHistory
		if final.CurrentStage != history[len(history)-1].Stage {
			rt.Fatalf("current stage %s does not match last history entry %s",
				final.CurrentStage, history[len(history)-1].Stage)
		}
		for i := 1; i < len(history); i++ {
			prev, cur := history[i-1], history[i]
			if cur.Override || cur.Stage == models.StageCancelled {
				continue
			}
			if models.StageIndex(cur.Stage) < models.StageIndex(prev.Stage) {
				rt.Fatalf("history moved backward without override: %s -> %s",
					prev.Stage, cur.Stage)
			}
		}
	})
}
