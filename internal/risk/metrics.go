package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// summariesComputed counts summaries written, by resulting level.
	summariesComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finrisk",
		Subsystem: "risk",
		Name:      "summaries_computed_total",
		Help:      "Risk summaries computed, by risk level",
	}, []string{"level"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "finrisk",
		Subsystem: "risk",
		Name:      "batch_duration_seconds",
		Help:      "Duration of the latest-version recompute batch",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	batchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "finrisk",
		Subsystem: "risk",
		Name:      "batch_unit_failures_total",
		Help:      "Company/quarter units that failed during a recompute batch",
	})

	// jobRuns counts scheduled job executions.
	// Labels: job, status (ok, error, skipped)
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finrisk",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by outcome",
	}, []string{"job", "status"})
)
