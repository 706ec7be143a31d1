package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drainflow"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notifications in queue by status",
		},
		[]string{"status"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by payload kind and result",
		},
		[]string{"kind", "result"},
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	queueFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_fetched_total",
			Help:      "Total notifications fetched from queue before a send attempt",
		},
	)
)

func recordDelivery(kind, result string) {
	deliveriesTotal.WithLabelValues(kind, result).Inc()
}

func recordDeliveryDuration(duration time.Duration) {
	deliveryDuration.Observe(duration.Seconds())
}

func recordQueueFetched(count int) {
	queueFetched.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
