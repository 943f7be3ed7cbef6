package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NoQueue labels tasks created without a registered queue.
const NoQueue = "none"

var (
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cte_tasks_enqueued_total",
			Help: "Total number of tasks accepted for dispatch",
		},
		[]string{"queue"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cte_attempts_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"queue", "result"}, // success, http_error, transport_error
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cte_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"queue", "state"},
	)

	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cte_tasks_in_flight",
			Help: "Current number of running dispatch loops",
		},
	)

	// Buckets: 5ms to ~82s
	AttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cte_attempt_duration_seconds",
			Help:    "Delivery attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		},
		[]string{"queue"},
	)
)

func QueueLabel(queueID string) string {
	if queueID == "" {
		return NoQueue
	}
	return queueID
}
