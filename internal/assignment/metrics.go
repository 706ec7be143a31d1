package assignment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drainflow"

var (
	assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "attempts_total",
			Help:      "Assignment attempts by category and result",
		},
		[]string{"category", "result"},
	)

	revertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "reverts_total",
			Help:      "Assignments reverted back to verified",
		},
	)
)

// recordAssignment records one assignment attempt outcome.
func recordAssignment(category, result string) {
	assignmentsTotal.WithLabelValues(category, result).Inc()
}

// recordRevert records a completed revert operation.
func recordRevert() {
	revertsTotal.Inc()
}
