package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permit_allocation_attempts_total",
		Help: "Permit number allocation transaction attempts by outcome.",
	}, []string{"outcome"})

	allocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "permit_allocation_duration_seconds",
		Help:    "Wall time of a permit allocation including retries.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	workflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permit_workflow_transitions_total",
		Help: "Submission transitions by operation and result kind.",
	}, []string{"operation", "result"})

	sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permit_side_effect_failures_total",
		Help: "Failed post-commit notifications and cache invalidations.",
	}, []string{"effect"})
)

const (
	outcomeCommitted = "committed"
	outcomeConflict  = "conflict"
	outcomeFailed    = "failed"
)

func recordTransition(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	workflowTransitions.WithLabelValues(operation, result).Inc()
}
