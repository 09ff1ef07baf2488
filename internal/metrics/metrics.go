package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event transport metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_events_published_total",
			Help: "Total number of envelopes published, by delivery path",
		},
		[]string{"path"}, // broadcast, fallback, failed
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_events_received_total",
			Help: "Total number of inbound envelopes, by result",
		},
		[]string{"result"}, // dispatched, duplicate, malformed, unclassified
	)

	FallbackAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loomline_fallback_attempts_total",
			Help: "Total number of direct-delivery attempts",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loomline_event_dispatch_duration_seconds",
			Help:    "Duration of inbound envelope handler dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Validation metrics
	ValidationsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_validations_issued_total",
			Help: "Total number of validation requests issued, by request type",
		},
		[]string{"request_type"},
	)

	ValidationsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_validations_resolved_total",
			Help: "Total number of validation resolutions, by outcome",
		},
		[]string{"outcome"}, // approved, rejected, timed_out, cancelled
	)

	ValidationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loomline_validations_pending",
			Help: "Number of validation requests still waiting",
		},
	)

	// Pipeline metrics
	PipelineTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_pipeline_transitions_total",
			Help: "Total number of stage transitions, by stage entered",
		},
		[]string{"stage"},
	)

	PipelineBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loomline_pipeline_blocked_total",
			Help: "Total number of items blocked by a failed or timed out validation",
		},
	)

	// Alert metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loomline_alerts_created_total",
			Help: "Total number of alerts created, by severity",
		},
		[]string{"severity"},
	)

	AlertsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loomline_alerts_open",
			Help: "Number of alerts currently open",
		},
	)
)
