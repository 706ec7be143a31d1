package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drainflow"

var (
	runsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Completed scheduler runs",
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Scheduler run duration",
			Buckets:   prometheus.DefBuckets,
		},
	)

	runOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "incidents_total",
			Help:      "Incidents handled per run by outcome",
		},
		[]string{"outcome"},
	)
)

// recordRun records the counters for one completed run.
func recordRun(report RunReport) {
	runsTotal.Inc()
	runDuration.Observe(report.Duration.Seconds())
	runOutcomes.WithLabelValues("assigned").Add(float64(report.Assigned))
	runOutcomes.WithLabelValues("skipped").Add(float64(report.Skipped))
	runOutcomes.WithLabelValues("failed").Add(float64(report.Failed))
}
