// Package models provides data models for the loomline service.
package models

import (
	"encoding/json"
	"time"

	"github.com/loomline-systems/loomline/internal/events"
)

// =============================================================================
// Pipeline Models
// =============================================================================

// PipelineItem is a product-development item moving through the stage
// sequence. Items are never deleted; terminal items stay queryable.
type PipelineItem struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	CurrentStage         string            `json:"current_stage"`
	StageHistory         []StageTransition `json:"stage_history"`
	PendingValidationIDs []string          `json:"pending_validation_ids,omitempty"`
	Approvals            []string          `json:"approvals,omitempty"`
	Rejections           []string          `json:"rejections,omitempty"`
	Blocked              bool              `json:"blocked"`
	BlockedReason        string            `json:"blocked_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// StageTransition is one entry in an item's stage history.
// Override marks an administrative move outside the normal progression.
type StageTransition struct {
	Stage     string    `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
	Actor     string    `json:"actor"`
	Override  bool      `json:"override,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Pipeline stage constants, in progression order.
const (
	StageDiscovery       = "discovery"
	StageConcept         = "concept"
	StageValidation      = "validation"
	StageApproval        = "approval"
	StageTechnicalDesign = "technical_design"
	StageHandoff         = "handoff"
	StageComplete        = "complete"
	StageCancelled       = "cancelled"
)

// StageOrder is the fixed forward progression. Cancelled sits outside the
// order and is reachable from any non-terminal stage.
var StageOrder = []string{
	StageDiscovery,
	StageConcept,
	StageValidation,
	StageApproval,
	StageTechnicalDesign,
	StageHandoff,
	StageComplete,
}

// StageIndex returns the position of a stage in the forward progression,
// or -1 for Cancelled and unknown stages.
func StageIndex(stage string) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// IsTerminalStage reports whether no further transitions are possible.
func IsTerminalStage(stage string) bool {
	return stage == StageComplete || stage == StageCancelled
}

// ValidStage reports whether the name is a known stage.
func ValidStage(stage string) bool {
	return stage == StageCancelled || StageIndex(stage) >= 0
}

// =============================================================================
// Validation Models
// =============================================================================

// PendingValidation is the public snapshot of an in-flight validation
// request tracked by the orchestrator.
type PendingValidation struct {
	CorrelationID  string    `json:"correlation_id"`
	PipelineItemID string    `json:"pipeline_item_id"`
	RequestType    string    `json:"request_type"`
	IssuedAt       time.Time `json:"issued_at"`
	Deadline       time.Time `json:"deadline"`
	State          string    `json:"state"` // waiting, approved, rejected, timed_out
}

// Validation state constants
const (
	ValidationWaiting  = "waiting"
	ValidationApproved = "approved"
	ValidationRejected = "rejected"
	ValidationTimedOut = "timed_out"
)

// Validation request type constants
const (
	ValidationMarginCheck     = "margin_check"
	ValidationCapacityCheck   = "capacity_check"
	ValidationProductApproval = "product_approval"
)

// =============================================================================
// Alert Models
// =============================================================================

// Alert is a persisted, severity-classified signal produced from an inbound
// event or a local failure. Append-only except for the explicit resolve.
type Alert struct {
	ID          string           `json:"id"`
	Severity    string           `json:"severity"` // low, medium, high, critical
	Category    string           `json:"category"`
	Title       string           `json:"title"`
	Message     string           `json:"message,omitempty"`
	SourceEvent *events.Envelope `json:"source_event,omitempty"`
	Status      string           `json:"status"` // open, resolved
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`
}

// Severity constants
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert status constants
const (
	AlertStatusOpen     = "open"
	AlertStatusResolved = "resolved"
)

// Alert category constants
const (
	CategoryPipeline     = "pipeline"
	CategoryValidation   = "validation"
	CategoryDelivery     = "delivery"
	CategoryBusiness     = "business"
	CategoryUnclassified = "unclassified"
)

// =============================================================================
// Event Journal Models
// =============================================================================

// JournalEntry records one envelope the module sent or received.
type JournalEntry struct {
	ID         int64           `json:"id"`
	EnvelopeID string          `json:"envelope_id"`
	Direction  string          `json:"direction"` // outbound, inbound
	Module     string          `json:"module"`    // counterpart module, or "broadcast"
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Journal direction constants
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Journal status constants
const (
	JournalStatusSent         = "sent"
	JournalStatusSentFallback = "sent_fallback"
	JournalStatusFailed       = "failed"
	JournalStatusReceived     = "received"
	JournalStatusDuplicate    = "duplicate"
)

// =============================================================================
// API Request/Response Models
// =============================================================================

// CreateItemRequest promotes a product idea into the pipeline.
type CreateItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor"`
}

// AdvanceRequest moves an item to the next stage.
type AdvanceRequest struct {
	Actor string `json:"actor"`
}

// CancelRequest cancels an item.
type CancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// SetStageRequest is the administrative override to an arbitrary stage.
type SetStageRequest struct {
	Stage string `json:"stage"`
	Actor string `json:"actor"`
	Note  string `json:"note,omitempty"`
}

// ClearRequest acknowledges a rejection or timeout and unblocks the item.
type ClearRequest struct {
	Actor string `json:"actor"`
}

// ListItemsRequest contains filters for listing pipeline items.
type ListItemsRequest struct {
	Stage   string
	Blocked *bool
	Limit   int
}

// CreateAlertRequest creates an alert directly (operator path).
type CreateAlertRequest struct {
	Severity string `json:"severity"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
}

// ResolveAlertRequest resolves an open alert.
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// ListAlertsRequest contains filters for listing alerts.
type ListAlertsRequest struct {
	Status   string
	Severity string
	Category string
	Limit    int
}

// ValidationResponseRequest submits a validation verdict directly.
type ValidationResponseRequest struct {
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason,omitempty"`
	RespondedBy string `json:"responded_by,omitempty"`
}

// PublishEventRequest publishes an arbitrary envelope (operator path).
type PublishEventRequest struct {
	Type         string                 `json:"type"`
	TargetModule string                 `json:"target_module,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// ListJournalRequest contains filters for the event journal.
type ListJournalRequest struct {
	Direction string
	Module    string
	EventType string
	Limit     int
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
