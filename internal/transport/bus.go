// Package transport implements the event bus connecting this module to its
// peers. Outbound envelopes are published over the broker and acknowledged by
// a receiver; when no acknowledgment arrives the bus falls back to direct
// HTTP delivery. Inbound envelopes are deduplicated and dispatched to
// registered handlers in arrival order per event type.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomline-systems/loomline/internal/dedup"
	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/messaging"
	"github.com/loomline-systems/loomline/internal/metrics"
	"github.com/loomline-systems/loomline/internal/models"
	"github.com/loomline-systems/loomline/internal/repository"
)

var (
	// ErrDeliveryFailed indicates an envelope could not be delivered over
	// the broker or any fallback endpoint.
	ErrDeliveryFailed = errors.New("event delivery failed")

	// ErrDuplicateEvent indicates an envelope id was already processed.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrBusClosed indicates the bus is not accepting envelopes.
	ErrBusClosed = errors.New("event bus is not running")
)

// Handler processes an inbound envelope. Handlers for the same event type
// run sequentially in arrival order; handlers for different types run
// concurrently.
type Handler func(ctx context.Context, env *events.Envelope) error

type ackResponse struct {
	Module string `json:"module"`
	Status string `json:"status"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	// Self is this module's name. Envelopes it published are skipped on
	// the broadcast subject.
	Self string

	// Peers are the counterpart modules reached by broadcast fallback.
	Peers []string

	// AckWait bounds how long a broker publish waits for a receiver ack.
	AckWait time.Duration

	// PublishWorkers bounds concurrent outbound deliveries.
	PublishWorkers int

	// QueueSize is the per-event-type dispatch buffer.
	QueueSize int
}

// Bus routes envelopes between modules and dispatches inbound ones.
type Bus struct {
	client   messaging.Client
	fallback *FallbackSender
	deduper  dedup.Deduper
	journal  repository.JournalRepository
	logger   *logging.Logger

	self      string
	peers     []string
	ackWait   time.Duration
	queueSize int

	publishSem chan struct{}

	mu              sync.RWMutex
	handlers        map[string][]Handler
	defaultHandlers []Handler
	topics          map[string]chan *events.Envelope
	subs            []messaging.Subscription
	started         bool
	stopped         bool

	receiveWG  sync.WaitGroup
	dispatchWG sync.WaitGroup
}

// NewBus creates an event bus. Call Start to begin consuming broker
// subjects and Stop to drain in-flight dispatches.
func NewBus(cfg BusConfig, client messaging.Client, fallback *FallbackSender, deduper dedup.Deduper, journal repository.JournalRepository, logger *logging.Logger) *Bus {
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 3 * time.Second
	}
	workers := cfg.PublishWorkers
	if workers <= 0 {
		workers = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	return &Bus{
		client:     client,
		fallback:   fallback,
		deduper:    deduper,
		journal:    journal,
		logger:     logger,
		self:       cfg.Self,
		peers:      cfg.Peers,
		ackWait:    ackWait,
		queueSize:  queueSize,
		publishSem: make(chan struct{}, workers),
		handlers:   make(map[string][]Handler),
		topics:     make(map[string]chan *events.Envelope),
	}
}

// Subscribe registers a handler for an event type. Must be called before
// Start.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeDefault registers a handler for event types with no dedicated
// subscriber.
func (b *Bus) SubscribeDefault(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultHandlers = append(b.defaultHandlers, handler)
}

// Start subscribes to this module's subject and the broadcast subject.
// Instances of the same module share a queue group so each envelope is
// consumed once per module.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bus already started")
	}
	b.started = true
	b.mu.Unlock()

	queue := messaging.ModuleQueue(b.self)

	moduleSub, err := b.client.QueueSubscribe(messaging.ModuleSubject(b.self), queue, b.handleBrokerMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to module subject: %w", err)
	}

	broadcastSub, err := b.client.QueueSubscribe(messaging.SubjectBroadcast, queue, b.handleBrokerMessage)
	if err != nil {
		_ = moduleSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to broadcast subject: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, moduleSub, broadcastSub)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "Event bus started",
		"module", b.self,
		"module_subject", messaging.ModuleSubject(b.self),
		"broadcast_subject", messaging.SubjectBroadcast,
		"queue_group", queue)

	return nil
}

// Stop unsubscribes from the broker and drains queued envelopes. After Stop
// returns every accepted envelope has been dispatched.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe", "subject", sub.Subject(), "error", err)
		}
	}

	// New receives are rejected once stopped is set; wait for in-flight
	// ones to finish enqueueing before closing the queues.
	b.receiveWG.Wait()

	b.mu.Lock()
	for _, ch := range b.topics {
		close(ch)
	}
	b.mu.Unlock()

	b.dispatchWG.Wait()

	b.logger.Info("Event bus stopped", "module", b.self)
	return nil
}

// Publish delivers an envelope to its target, or to every peer when the
// target is empty. The broker is tried first; if no receiver acknowledges
// within the ack window the envelope is posted to the fallback endpoints.
// Total failure raises a synthetic delivery_failed event locally and
// returns ErrDeliveryFailed.
func (b *Bus) Publish(ctx context.Context, env *events.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	select {
	case b.publishSem <- struct{}{}:
		defer func() { <-b.publishSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	subject := messaging.SubjectBroadcast
	if !env.Broadcast() {
		subject = messaging.ModuleSubject(env.TargetModule)
	}

	_, reqErr := b.client.Request(ctx, subject, data, b.ackWait)
	if reqErr == nil {
		b.record(ctx, env, models.DirectionOutbound, models.JournalStatusSent)
		metrics.EventsPublished.WithLabelValues("broadcast").Inc()
		return nil
	}
	b.logger.WarnContext(ctx, "No broker acknowledgment, falling back to direct delivery",
		"event_id", env.ID,
		"type", env.Type,
		"subject", subject,
		"error", reqErr)

	targets := b.peers
	if !env.Broadcast() {
		targets = []string{env.TargetModule}
	}

	var failed []string
	for _, module := range targets {
		if err := b.fallback.Send(ctx, module, env); err != nil {
			b.logger.ErrorContext(ctx, "Fallback delivery failed",
				"event_id", env.ID,
				"type", env.Type,
				"module", module,
				"error", err)
			failed = append(failed, module)
		}
	}

	if len(failed) == 0 {
		b.record(ctx, env, models.DirectionOutbound, models.JournalStatusSentFallback)
		metrics.EventsPublished.WithLabelValues("fallback").Inc()
		return nil
	}

	b.record(ctx, env, models.DirectionOutbound, models.JournalStatusFailed)
	metrics.EventsPublished.WithLabelValues("failed").Inc()
	b.raiseDeliveryFailure(ctx, env, failed)

	return fmt.Errorf("%w: event %s undelivered to %s", ErrDeliveryFailed, env.ID, strings.Join(failed, ", "))
}

// Receive ingests an inbound envelope from any transport path. Duplicates
// are journaled and dropped with ErrDuplicateEvent.
func (b *Bus) Receive(ctx context.Context, env *events.Envelope) error {
	if err := env.Validate(); err != nil {
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		return err
	}

	// Reject before touching the dedup store: a stopped bus must not
	// consume the envelope id, or a later redelivery would be dropped.
	b.mu.RLock()
	if !b.started || b.stopped {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.receiveWG.Add(1)
	ch := b.topics[env.Type]
	b.mu.RUnlock()
	defer b.receiveWG.Done()

	seen, err := b.deduper.Seen(ctx, env.ID)
	if err != nil {
		// Degrade open: accepting a rare duplicate beats dropping a
		// valid envelope when the dedup store is down.
		b.logger.WarnContext(ctx, "Dedup check failed, accepting envelope",
			"event_id", env.ID,
			"error", err)
	}
	if seen {
		metrics.EventsReceived.WithLabelValues("duplicate").Inc()
		b.record(ctx, env, models.DirectionInbound, models.JournalStatusDuplicate)
		return ErrDuplicateEvent
	}

	if ch == nil {
		ch = b.topicChan(env.Type)
	}

	b.record(ctx, env, models.DirectionInbound, models.JournalStatusReceived)

	select {
	case ch <- env:
		metrics.EventsReceived.WithLabelValues("dispatched").Inc()
		return nil
	case <-ctx.Done():
		// The envelope was never enqueued; release its id so the
		// sender's retry is not mistaken for a duplicate.
		if err := b.deduper.Forget(context.WithoutCancel(ctx), env.ID); err != nil {
			b.logger.Error("Failed to release dedup id for rejected envelope",
				"event_id", env.ID,
				"error", err)
		}
		return ctx.Err()
	}
}

// topicChan lazily creates the ordered dispatch queue for an event type.
func (b *Bus) topicChan(eventType string) chan *events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.topics[eventType]; ok {
		return ch
	}

	ch := make(chan *events.Envelope, b.queueSize)
	b.topics[eventType] = ch
	b.dispatchWG.Add(1)
	go b.dispatchLoop(ch)
	return ch
}

func (b *Bus) dispatchLoop(ch chan *events.Envelope) {
	defer b.dispatchWG.Done()
	for env := range ch {
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env *events.Envelope) {
	start := time.Now()

	b.mu.RLock()
	handlers := b.handlers[env.Type]
	if len(handlers) == 0 {
		handlers = b.defaultHandlers
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Warn("No handler registered for event type",
			"type", env.Type,
			"event_id", env.ID,
			"source", env.SourceModule)
		return
	}

	ctx := context.Background()
	for _, handler := range handlers {
		b.invoke(ctx, handler, env)
	}

	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
}

// invoke runs one handler, recovering panics so a bad handler cannot kill
// the dispatch loop for its event type.
func (b *Bus) invoke(ctx context.Context, handler Handler, env *events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				"type", env.Type,
				"event_id", env.ID,
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := handler(ctx, env); err != nil {
		b.logger.Error("Handler failed",
			"type", env.Type,
			"event_id", env.ID,
			"error", err)
	}
}

// handleBrokerMessage decodes broker deliveries, feeds them into the
// dispatch queues, and acknowledges receipt on the reply subject.
func (b *Bus) handleBrokerMessage(ctx context.Context, msg *messaging.Message) error {
	env, err := events.Decode(msg.Data)
	if err != nil {
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		return fmt.Errorf("decode envelope from %s: %w", msg.Subject, err)
	}

	// Our own broadcasts loop back on the shared subject. Skip without
	// acking so the sender-side ack reflects a real peer.
	if env.SourceModule == b.self {
		return nil
	}

	status := "received"
	if err := b.Receive(ctx, env); err != nil {
		if !errors.Is(err, ErrDuplicateEvent) {
			return err
		}
		status = "duplicate"
	}

	if msg.Reply != "" {
		ack, err := json.Marshal(ackResponse{Module: b.self, Status: status})
		if err == nil {
			err = b.client.Publish(ctx, msg.Reply, ack)
		}
		if err != nil {
			b.logger.WarnContext(ctx, "Failed to acknowledge envelope",
				"event_id", env.ID,
				"error", err)
		}
	}

	return nil
}

// raiseDeliveryFailure injects a synthetic delivery_failed event into the
// local dispatch path so the failure surfaces as an alert.
func (b *Bus) raiseDeliveryFailure(ctx context.Context, env *events.Envelope, failed []string) {
	payload := map[string]interface{}{
		"title":             fmt.Sprintf("Delivery Failed: %s", env.Type),
		"message":           fmt.Sprintf("Event %s undelivered to %s on both transports", env.ID, strings.Join(failed, ", ")),
		"originalEventId":   env.ID,
		"originalEventType": env.Type,
		"failedModules":     failed,
	}
	synthetic := events.New(events.KindDeliveryFailed, b.self, b.self, payload)
	synthetic.CorrelationID = env.CorrelationID

	if err := b.Receive(ctx, synthetic); err != nil && !errors.Is(err, ErrBusClosed) {
		b.logger.ErrorContext(ctx, "Failed to dispatch delivery failure event",
			"original_event_id", env.ID,
			"error", err)
	}
}

func (b *Bus) record(ctx context.Context, env *events.Envelope, direction, status string) {
	module := env.SourceModule
	if direction == models.DirectionOutbound {
		module = env.TargetModule
		if env.Broadcast() {
			module = "broadcast"
		}
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		payload = nil
	}

	entry := &models.JournalEntry{
		EnvelopeID: env.ID,
		Direction:  direction,
		Module:     module,
		EventType:  env.Type,
		Payload:    payload,
		Status:     status,
	}
	if err := b.journal.RecordEvent(ctx, entry); err != nil {
		b.logger.WarnContext(ctx, "Failed to journal envelope",
			"event_id", env.ID,
			"direction", direction,
			"error", err)
	}
}
