// Package metrics provides Prometheus metrics for the sprout service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks orchestrator runs by final status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sprout",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of scraper runs by status",
		},
		[]string{"dispensary_id", "status"},
	)

	// RunDuration tracks run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sprout",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of scraper runs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"dispensary_id"},
	)

	// ListingsTotal tracks listings by outcome
	ListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sprout",
			Subsystem: "listings",
			Name:      "total",
			Help:      "Total number of raw listings by outcome",
		},
		[]string{"outcome"},
	)

	// MatchScore tracks the best candidate score seen per decision
	MatchScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sprout",
			Subsystem: "matching",
			Name:      "best_score",
			Help:      "Best candidate score per scored listing",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
		},
		[]string{"decision"},
	)

	// ConflictsTotal tracks uniqueness conflicts converged during runs
	ConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sprout",
			Subsystem: "runs",
			Name:      "conflicts_total",
			Help:      "Concurrent-creation conflicts converged onto an existing row",
		},
	)

	// ReviewActionsTotal tracks reviewer actions on flags
	ReviewActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sprout",
			Subsystem: "review",
			Name:      "actions_total",
			Help:      "Total number of review actions by verb",
		},
		[]string{"action"},
	)

	// KafkaPublishTotal tracks catalog event publishes
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sprout",
			Subsystem: "kafka",
			Name:      "publish_total",
			Help:      "Total number of Kafka publish operations",
		},
		[]string{"topic", "status"},
	)
)

// Listing outcomes
const (
	OutcomeAutoMerged   = "auto_merged"
	OutcomeFlagged      = "flagged"
	OutcomeNewProduct   = "new_product"
	OutcomeParseError   = "parse_error"
	OutcomeMatchFailure = "match_failure"
	OutcomeError        = "error"
)

// RecordRun records a finished run
func RecordRun(dispensaryID, status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(dispensaryID, status).Inc()
	RunDuration.WithLabelValues(dispensaryID).Observe(durationSeconds)
}

// RecordListing records one listing outcome
func RecordListing(outcome string) {
	ListingsTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision records the best score behind a decision
func RecordDecision(decision string, score float64) {
	MatchScore.WithLabelValues(decision).Observe(score)
}

// RecordConflict records a converged conflict
func RecordConflict() {
	ConflictsTotal.Inc()
}

// RecordReviewAction records a reviewer action
func RecordReviewAction(action string) {
	ReviewActionsTotal.WithLabelValues(action).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaPublishTotal.WithLabelValues(topic, status).Inc()
}
