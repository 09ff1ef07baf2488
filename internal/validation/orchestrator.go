// Package validation tracks cross-module validation exchanges. A request is
// issued to the responsible module and held as a pending record until the
// matching response arrives, the deadline passes, or the pipeline item is
// cancelled. Whichever happens first wins; every later signal for the same
// correlation id is discarded.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/metrics"
	"github.com/loomline-systems/loomline/internal/models"
)

var (
	// ErrValidationNotFound indicates no validation matches the
	// correlation id.
	ErrValidationNotFound = errors.New("validation not found")

	// ErrAlreadyResolved indicates the validation already left Waiting;
	// the losing write is discarded.
	ErrAlreadyResolved = errors.New("validation already resolved")

	// ErrUnknownRequestType indicates a request type with no route.
	ErrUnknownRequestType = errors.New("unknown validation request type")

	// ErrClosed indicates the orchestrator is shutting down.
	ErrClosed = errors.New("validation orchestrator closed")
)

// OutcomeCancelled marks a validation released because its pipeline item
// was cancelled. It is not a validation state; cancelled records are
// removed rather than kept.
const OutcomeCancelled = "cancelled"

// Outcome is the final resolution of one validation exchange.
type Outcome struct {
	CorrelationID string
	ItemID        string
	RequestType   string
	State         string // approved, rejected, timed_out, cancelled
	Reason        string
	RespondedBy   string
}

// Handle lets the issuer await the outcome of one validation exchange.
// The channel delivers exactly one Outcome.
type Handle struct {
	CorrelationID string
	RequestType   string
	done          chan Outcome
}

// Done returns the channel carrying the final outcome.
func (h *Handle) Done() <-chan Outcome {
	return h.done
}

// EventBus is the transport surface the orchestrator needs: Publish sends
// requests to peer modules, Receive injects synthetic local events.
type EventBus interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Receive(ctx context.Context, env *events.Envelope) error
}

// requestRoutes maps a validation request type to the event kind it emits
// and the module that answers it.
var requestRoutes = map[string]struct {
	kind   string
	target string
}{
	models.ValidationMarginCheck:     {events.KindMarginCheckRequest, events.ModuleFinance},
	models.ValidationCapacityCheck:   {events.KindCapacityCheckRequest, events.ModuleOperations},
	models.ValidationProductApproval: {events.KindProductApprovalRequest, events.ModuleExecutive},
}

type record struct {
	snapshot models.PendingValidation
	done     chan Outcome
}

type resolvedRecord struct {
	snapshot   models.PendingValidation
	resolvedAt time.Time
}

// Config holds orchestrator settings.
type Config struct {
	// Self is this module's name, used as the source of outbound requests.
	Self string

	// Timeout is how long a validation may wait before it times out.
	Timeout time.Duration

	// Grace is how long resolved records stay queryable after resolution.
	Grace time.Duration
}

// Orchestrator owns the pending-validation table.
type Orchestrator struct {
	bus    EventBus
	logger *logging.Logger
	self   string

	timeout time.Duration
	grace   time.Duration

	mu       sync.Mutex
	pending  map[string]*record
	resolved map[string]resolvedRecord
	closed   bool
}

// NewOrchestrator creates a validation orchestrator.
func NewOrchestrator(cfg Config, bus EventBus, logger *logging.Logger) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 48 * time.Hour
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = 10 * time.Minute
	}

	return &Orchestrator{
		bus:      bus,
		logger:   logger,
		self:     cfg.Self,
		timeout:  timeout,
		grace:    grace,
		pending:  make(map[string]*record),
		resolved: make(map[string]resolvedRecord),
	}
}

// Request issues a validation request for a pipeline item and registers a
// pending record. The caller's payload is merged into the request envelope
// on top of the correlation fields. A zero timeout uses the configured
// default. The returned handle delivers the outcome.
func (o *Orchestrator) Request(ctx context.Context, itemID, requestType string, payload map[string]interface{}, timeout time.Duration) (*Handle, error) {
	route, ok := requestRoutes[requestType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequestType, requestType)
	}
	if timeout <= 0 {
		timeout = o.timeout
	}

	now := time.Now().UTC()
	rec := &record{
		snapshot: models.PendingValidation{
			CorrelationID:  uuid.New().String(),
			PipelineItemID: itemID,
			RequestType:    requestType,
			IssuedAt:       now,
			Deadline:       now.Add(timeout),
			State:          models.ValidationWaiting,
		},
		done: make(chan Outcome, 1),
	}

	// Register before publishing so a fast response cannot miss the record.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.pending[rec.snapshot.CorrelationID] = rec
	o.mu.Unlock()

	body := map[string]interface{}{
		"productId":   itemID,
		"requestType": requestType,
		"deadline":    rec.snapshot.Deadline.Format(time.RFC3339),
	}
	for k, v := range payload {
		body[k] = v
	}
	env := events.NewCorrelated(route.kind, o.self, route.target, rec.snapshot.CorrelationID, body)

	if err := o.bus.Publish(ctx, env); err != nil {
		o.mu.Lock()
		delete(o.pending, rec.snapshot.CorrelationID)
		o.mu.Unlock()
		return nil, fmt.Errorf("publish validation request: %w", err)
	}

	metrics.ValidationsIssued.WithLabelValues(requestType).Inc()
	metrics.ValidationsPending.Inc()

	o.logger.InfoContext(ctx, "Validation request issued",
		"correlation_id", rec.snapshot.CorrelationID,
		"item_id", itemID,
		"request_type", requestType,
		"target", route.target,
		"deadline", rec.snapshot.Deadline)

	return &Handle{
		CorrelationID: rec.snapshot.CorrelationID,
		RequestType:   requestType,
		done:          rec.done,
	}, nil
}

// HandleResponse consumes a validation response envelope from the bus.
// Responses that match nothing are discarded: the validation already
// resolved, timed out, or never existed.
func (o *Orchestrator) HandleResponse(ctx context.Context, env *events.Envelope) error {
	if env.CorrelationID == "" {
		o.logger.WarnContext(ctx, "Validation response without correlation id discarded",
			"event_id", env.ID,
			"type", env.Type,
			"source", env.SourceModule)
		return nil
	}

	verdict := events.VerdictFromPayload(env.Payload)
	if verdict.RespondedBy == "" {
		verdict.RespondedBy = env.SourceModule
	}

	err := o.Resolve(ctx, env.CorrelationID, verdict)
	if errors.Is(err, ErrValidationNotFound) || errors.Is(err, ErrAlreadyResolved) {
		o.logger.DebugContext(ctx, "Late or unknown validation response discarded",
			"correlation_id", env.CorrelationID,
			"source", env.SourceModule)
		return nil
	}
	return err
}

// Resolve applies a verdict to a waiting validation. Exactly one resolution
// wins per correlation id; later calls get ErrAlreadyResolved while the
// record is within the grace window, ErrValidationNotFound after.
func (o *Orchestrator) Resolve(ctx context.Context, correlationID string, verdict events.Verdict) error {
	state := models.ValidationRejected
	if verdict.Approved {
		state = models.ValidationApproved
	}

	o.mu.Lock()
	rec, ok := o.pending[correlationID]
	if !ok {
		_, wasResolved := o.resolved[correlationID]
		o.mu.Unlock()
		if wasResolved {
			return ErrAlreadyResolved
		}
		return ErrValidationNotFound
	}
	delete(o.pending, correlationID)
	rec.snapshot.State = state
	o.resolved[correlationID] = resolvedRecord{snapshot: rec.snapshot, resolvedAt: time.Now().UTC()}
	o.mu.Unlock()

	metrics.ValidationsResolved.WithLabelValues(state).Inc()
	metrics.ValidationsPending.Dec()

	o.logger.InfoContext(ctx, "Validation resolved",
		"correlation_id", correlationID,
		"item_id", rec.snapshot.PipelineItemID,
		"request_type", rec.snapshot.RequestType,
		"state", state,
		"responded_by", verdict.RespondedBy)

	rec.done <- Outcome{
		CorrelationID: correlationID,
		ItemID:        rec.snapshot.PipelineItemID,
		RequestType:   rec.snapshot.RequestType,
		State:         state,
		Reason:        verdict.Reason,
		RespondedBy:   verdict.RespondedBy,
	}
	return nil
}

// ExpireOverdue times out every waiting validation whose deadline has
// passed and raises a synthetic validation_timed_out event for each.
// Returns the number of validations expired.
func (o *Orchestrator) ExpireOverdue(ctx context.Context, now time.Time) int {
	o.mu.Lock()
	var expired []*record
	for correlationID, rec := range o.pending {
		if rec.snapshot.Deadline.After(now) {
			continue
		}
		delete(o.pending, correlationID)
		rec.snapshot.State = models.ValidationTimedOut
		o.resolved[correlationID] = resolvedRecord{snapshot: rec.snapshot, resolvedAt: now}
		expired = append(expired, rec)
	}
	o.mu.Unlock()

	for _, rec := range expired {
		metrics.ValidationsResolved.WithLabelValues(models.ValidationTimedOut).Inc()
		metrics.ValidationsPending.Dec()

		o.logger.WarnContext(ctx, "Validation timed out",
			"correlation_id", rec.snapshot.CorrelationID,
			"item_id", rec.snapshot.PipelineItemID,
			"request_type", rec.snapshot.RequestType,
			"deadline", rec.snapshot.Deadline)

		rec.done <- Outcome{
			CorrelationID: rec.snapshot.CorrelationID,
			ItemID:        rec.snapshot.PipelineItemID,
			RequestType:   rec.snapshot.RequestType,
			State:         models.ValidationTimedOut,
			Reason:        "no response before deadline",
		}

		synthetic := events.NewCorrelated(events.KindValidationTimedOut, o.self, o.self,
			rec.snapshot.CorrelationID,
			map[string]interface{}{
				"title":          fmt.Sprintf("Validation Timed Out: %s", rec.snapshot.RequestType),
				"message":        fmt.Sprintf("No %s response for item %s before the deadline", rec.snapshot.RequestType, rec.snapshot.PipelineItemID),
				"pipelineItemId": rec.snapshot.PipelineItemID,
				"requestType":    rec.snapshot.RequestType,
				"deadline":       rec.snapshot.Deadline.Format(time.RFC3339),
			})
		if err := o.bus.Receive(ctx, synthetic); err != nil {
			o.logger.ErrorContext(ctx, "Failed to dispatch validation timeout event",
				"correlation_id", rec.snapshot.CorrelationID,
				"error", err)
		}
	}

	return len(expired)
}

// CancelItem releases every waiting validation for a pipeline item.
// Returns the number of validations released.
func (o *Orchestrator) CancelItem(ctx context.Context, itemID string) int {
	o.mu.Lock()
	var cancelled []*record
	for correlationID, rec := range o.pending {
		if rec.snapshot.PipelineItemID != itemID {
			continue
		}
		delete(o.pending, correlationID)
		cancelled = append(cancelled, rec)
	}
	o.mu.Unlock()

	for _, rec := range cancelled {
		metrics.ValidationsResolved.WithLabelValues(OutcomeCancelled).Inc()
		metrics.ValidationsPending.Dec()

		rec.done <- Outcome{
			CorrelationID: rec.snapshot.CorrelationID,
			ItemID:        rec.snapshot.PipelineItemID,
			RequestType:   rec.snapshot.RequestType,
			State:         OutcomeCancelled,
			Reason:        "pipeline item cancelled",
		}
	}

	if len(cancelled) > 0 {
		o.logger.InfoContext(ctx, "Released validations for cancelled item",
			"item_id", itemID,
			"count", len(cancelled))
	}

	return len(cancelled)
}

// PurgeResolved drops resolved records older than the grace window.
// Returns the number purged.
func (o *Orchestrator) PurgeResolved(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	purged := 0
	for correlationID, rec := range o.resolved {
		if now.Sub(rec.resolvedAt) >= o.grace {
			delete(o.resolved, correlationID)
			purged++
		}
	}
	return purged
}

// Get returns the snapshot for a correlation id, waiting or recently
// resolved.
func (o *Orchestrator) Get(correlationID string) (models.PendingValidation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.pending[correlationID]; ok {
		return rec.snapshot, nil
	}
	if rec, ok := o.resolved[correlationID]; ok {
		return rec.snapshot, nil
	}
	return models.PendingValidation{}, ErrValidationNotFound
}

// Pending returns a snapshot of every waiting validation.
func (o *Orchestrator) Pending() []models.PendingValidation {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.PendingValidation, 0, len(o.pending))
	for _, rec := range o.pending {
		out = append(out, rec.snapshot)
	}
	return out
}

// Close releases every waiting validation as cancelled so goroutines
// blocked on handles can exit. Further Requests fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var remaining []*record
	for correlationID, rec := range o.pending {
		delete(o.pending, correlationID)
		remaining = append(remaining, rec)
	}
	o.mu.Unlock()

	for _, rec := range remaining {
		metrics.ValidationsPending.Dec()
		rec.done <- Outcome{
			CorrelationID: rec.snapshot.CorrelationID,
			ItemID:        rec.snapshot.PipelineItemID,
			RequestType:   rec.snapshot.RequestType,
			State:         OutcomeCancelled,
			Reason:        "orchestrator shutting down",
		}
	}

	if len(remaining) > 0 {
		o.logger.Info("Released waiting validations on shutdown", "count", len(remaining))
	}
}
