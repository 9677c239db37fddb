// Package telemetry holds the engine's Prometheus instrumentation. A single
// Metrics value is shared by all components so tests can use an isolated
// registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter and histogram exposed by the engine.
type Metrics struct {
	DecisionsTotal    *prometheus.CounterVec
	DecisionErrors    *prometheus.CounterVec
	DecisionLatency   prometheus.Histogram
	FallbacksTotal    prometheus.Counter
	PredictorErrors   *prometheus.CounterVec
	FeedbackApplied   prometheus.Counter
	FeedbackDuplicate prometheus.Counter
	FeedbackDropped   prometheus.Counter
	SegmentCacheHits  prometheus.Counter
	SegmentCacheMiss  prometheus.Counter
	RetrainsTotal     prometheus.Counter
	RetrainFailures   prometheus.Counter
}

// New registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "psp_router_decisions_total",
			Help: "Routing decisions produced, by guardrail tag.",
		}, []string{"guardrail"}),
		DecisionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "psp_router_decision_errors_total",
			Help: "Routing requests that failed, by error kind.",
		}, []string{"kind"}),
		DecisionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "psp_router_decision_latency_seconds",
			Help:    "End-to-end Decide latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		FallbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_fallbacks_total",
			Help: "Decisions produced through the deterministic fallback path.",
		}),
		PredictorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "psp_router_predictor_errors_total",
			Help: "Predictor failures swallowed by the router, by reason.",
		}, []string{"reason"}),
		FeedbackApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_feedback_applied_total",
			Help: "Feedback records applied to candidate state.",
		}),
		FeedbackDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_feedback_duplicate_total",
			Help: "Feedback records ignored because the decision id was already seen.",
		}),
		FeedbackDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_feedback_dropped_total",
			Help: "Feedback records dropped due to ingestion queue overflow.",
		}),
		SegmentCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_segment_cache_hits_total",
			Help: "Segment view cache hits.",
		}),
		SegmentCacheMiss: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_segment_cache_misses_total",
			Help: "Segment view cache misses triggering a recompute.",
		}),
		RetrainsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_retrains_total",
			Help: "Completed retraining passes.",
		}),
		RetrainFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "psp_router_retrain_failures_total",
			Help: "Retraining passes that failed after retries.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
