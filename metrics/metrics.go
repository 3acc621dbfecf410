// Package metrics exposes Prometheus instrumentation for the curation pipeline.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "curator"

var (
	// CascadeAttempts counts candidate calls by candidate and outcome
	CascadeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "candidate_attempts_total",
		Help:      "Scoring candidate attempts by candidate and outcome.",
	}, []string{"candidate", "outcome"})

	// CandidateLatency observes candidate call durations
	CandidateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "candidate_duration_seconds",
		Help:      "Scoring candidate call duration.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"candidate"})

	// Analyses counts completed analyses by method kind (model or heuristic)
	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "analyses_total",
		Help:      "Completed analyses by method kind.",
	}, []string{"kind"})

	// AnalysisCacheHits counts analyses served from the result cache
	AnalysisCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "cache_hits_total",
		Help:      "Analyses served from the result cache.",
	})

	// Upserts counts content upserts by outcome (created, updated, error)
	Upserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "content",
		Name:      "upserts_total",
		Help:      "Pipeline content upserts by outcome.",
	}, []string{"outcome"})

	// ManualCreates counts manual content creation by outcome
	ManualCreates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "content",
		Name:      "manual_creates_total",
		Help:      "Manual content creation by outcome.",
	}, []string{"outcome"})

	// TrackerDecisions counts submission gate decisions on the agent
	TrackerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "decisions_total",
		Help:      "Submission gate decisions (acquired, skipped_pending, skipped_confirmed).",
	}, []string{"decision"})

	// Submissions counts agent submission results
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "submissions_total",
		Help:      "Agent submissions by result (confirmed, duplicate, failed, below_threshold).",
	}, []string{"result"})
)

// RegisterDBStats registers a collector for database/sql pool statistics
func RegisterDBStats(db *sql.DB, dbName string) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, dbName))
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
