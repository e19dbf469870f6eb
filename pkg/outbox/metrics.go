package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results.
const (
	resultDelivered = "delivered"
	resultRetry     = "retry"
	resultDead      = "dead"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "enqueued_total",
		Help:      "Import jobs written to the queue.",
	}, []string{"queue", "topic"})

	jobDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "deliveries_total",
		Help:      "Delivery attempts by record kind and result (delivered, retry, dead).",
	}, []string{"queue", "kind", "result"})

	// Tracker imports of a whole org unit take seconds to minutes.
	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent running one delivery attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 3, 10),
	}, []string{"queue", "kind"})

	jobAge = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "job_age_seconds",
		Help:      "Time from enqueue until the job was delivered, retries included.",
		Buckets:   prometheus.ExponentialBuckets(1, 2.5, 10),
	}, []string{"queue", "kind"})

	jobsQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "jobs",
		Help:      "Undelivered jobs by state (pending, locked).",
	}, []string{"queue", "state"})

	activeRelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "approval",
		Subsystem: "import_queue",
		Name:      "relay_active",
		Help:      "1 while this process delivers jobs of the queue.",
	}, []string{"queue"})
)

func recordEnqueue(queue, topic string) {
	jobsEnqueued.WithLabelValues(queue, topic).Inc()
}

func recordDelivery(queue, kind, result string, c Claimed, took time.Duration) {
	jobDeliveries.WithLabelValues(queue, kind, result).Inc()
	deliveryDuration.WithLabelValues(queue, kind).Observe(took.Seconds())
	if age, ok := deliveredAge(c, took); ok && result == resultDelivered {
		jobAge.WithLabelValues(queue, kind).Observe(age.Seconds())
	}
}

// deliveredAge is the time from enqueue to the end of the attempt.
func deliveredAge(c Claimed, took time.Duration) (time.Duration, bool) {
	if c.EnqueuedAt.IsZero() {
		return 0, false
	}
	return c.ClaimedAt.Add(took).Sub(c.EnqueuedAt), true
}

func recordDepth(queue string, pending, locked int64) {
	jobsQueued.WithLabelValues(queue, "pending").Set(float64(pending))
	jobsQueued.WithLabelValues(queue, "locked").Set(float64(locked))
}

func setActive(queue string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	activeRelay.WithLabelValues(queue).Set(v)
}
