// Package events defines the envelope and event kinds exchanged between
// organizational modules.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Module names. Every envelope names its sender; a targeted envelope also
// names exactly one receiver.
const (
	ModuleDesign     = "design"
	ModuleExecutive  = "executive"
	ModuleFinance    = "finance"
	ModuleOperations = "operations"
	ModuleMarketing  = "marketing"
)

// Validation request/response kinds. Requests carry a correlation id; the
// matching response echoes it.
const (
	KindMarginCheckRequest     = "margin_check_request"
	KindMarginCheckResponse    = "margin_check_response"
	KindCapacityCheckRequest   = "capacity_check_request"
	KindCapacityCheckResponse  = "capacity_check_response"
	KindProductApprovalRequest = "product_approval_request"
	KindApprovalDecided        = "approval_decided"
)

// Outbound notice kinds published on pipeline progress.
const (
	KindPipelineUpdated              = "product_pipeline_updated"
	KindTechPackReady                = "tech_pack_ready"
	KindPatternReady                 = "pattern_ready"
	KindProductRecommendation        = "product_recommendation"
	KindDemandForecast               = "demand_forecast"
	KindProductApprovedForProduction = "product_approved_for_production"
	KindProductBudgetAllocated       = "product_budget_allocated"
	KindProductLaunchScheduled       = "product_launch_scheduled"
	KindTrendAlert                   = "trend_alert"
	KindPerformanceReport            = "performance_report"
)

// Inbound notice kinds from counterpart modules. They become alerts.
const (
	KindSalesDataUpdated    = "sales_data_updated"
	KindInventoryUpdated    = "inventory_updated"
	KindCampaignPerformance = "campaign_performance"
	KindFinancialReport     = "financial_report"
)

// Synthetic kinds raised locally so failures surface as alerts instead of
// disappearing into logs.
const (
	KindDeliveryFailed     = "delivery_failed"
	KindValidationTimedOut = "validation_timed_out"
)

// Envelope is the atomic unit of inter-module communication. It is immutable
// once created. The JSON field names are the wire contract shared by the
// broadcast channel and the direct-delivery fallback.
type Envelope struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	SourceModule  string                 `json:"sourceModule"`
	TargetModule  string                 `json:"targetModule,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// New creates an envelope with a fresh id and timestamp.
// An empty target means broadcast.
func New(kind, source, target string, payload map[string]interface{}) *Envelope {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Envelope{
		ID:           uuid.New().String(),
		Type:         kind,
		SourceModule: source,
		TargetModule: target,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}

// NewCorrelated creates an envelope tied to a validation exchange.
func NewCorrelated(kind, source, target, correlationID string, payload map[string]interface{}) *Envelope {
	e := New(kind, source, target, payload)
	e.CorrelationID = correlationID
	return e
}

// Broadcast reports whether the envelope addresses every module.
func (e *Envelope) Broadcast() bool {
	return e.TargetModule == ""
}

// Validate checks the fields every envelope must carry.
func (e *Envelope) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("envelope missing id")
	case e.Type == "":
		return errors.New("envelope missing type")
	case e.SourceModule == "":
		return errors.New("envelope missing sourceModule")
	case e.Timestamp.IsZero():
		return errors.New("envelope missing timestamp")
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Verdict is the decision carried by a validation response payload.
type Verdict struct {
	Approved    bool
	Reason      string
	RespondedBy string
}

// VerdictFromPayload extracts the verdict fields from a response payload.
// Missing or mistyped fields default to not approved.
func VerdictFromPayload(payload map[string]interface{}) Verdict {
	var v Verdict
	if approved, ok := payload["approved"].(bool); ok {
		v.Approved = approved
	}
	if reason, ok := payload["reason"].(string); ok {
		v.Reason = reason
	}
	if by, ok := payload["responded_by"].(string); ok {
		v.RespondedBy = by
	}
	return v
}

// ResponseKindFor maps a validation request kind to its response kind.
// Returns empty string for kinds that are not validation requests.
func ResponseKindFor(requestKind string) string {
	switch requestKind {
	case KindMarginCheckRequest:
		return KindMarginCheckResponse
	case KindCapacityCheckRequest:
		return KindCapacityCheckResponse
	case KindProductApprovalRequest:
		return KindApprovalDecided
	default:
		return ""
	}
}
