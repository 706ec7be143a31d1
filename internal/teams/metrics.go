package teams

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drainflow"

var reconciledTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "teams",
		Name:      "availability_reconciled_total",
		Help:      "Teams automatically returned to rotation by the sweep",
	},
)

func recordReconciled(count int) {
	reconciledTotal.Add(float64(count))
}
