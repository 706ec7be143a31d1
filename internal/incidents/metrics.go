package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drainflow"

var (
	reportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "reported_total",
			Help:      "Incidents received through intake",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "transitions_total",
			Help:      "Manual incident transitions by target status and result",
		},
		[]string{"target", "result"},
	)

	slaBreachesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "sla_breaches_total",
			Help:      "Incidents flagged past their SLA deadline",
		},
	)
)

func recordReported() {
	reportedTotal.Inc()
}

func recordTransition(target, result string) {
	transitionsTotal.WithLabelValues(target, result).Inc()
}

func recordSLABreaches(count int) {
	slaBreachesTotal.Add(float64(count))
}
