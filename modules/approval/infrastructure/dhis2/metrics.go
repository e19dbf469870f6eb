package dhis2

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "dhis2",
		Name:      "requests_total",
		Help:      "Total number of platform requests broken down by method, resource and status class.",
	}, []string{"method", "resource", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "approval",
		Subsystem: "dhis2",
		Name:      "request_duration_seconds",
		Help:      "Platform request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "resource"})

	throttled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "approval",
		Subsystem: "dhis2",
		Name:      "throttled_total",
		Help:      "Total number of requests delayed by the client rate limit.",
	})
)

// resource keeps label cardinality bounded: /api/dataSets/abc -> dataSets.
func resource(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if parts[0] == "tracker" && len(parts) > 1 {
		return "tracker/" + parts[1]
	}
	return parts[0]
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func observeRequest(method, path, status string, start time.Time) {
	r := resource(path)
	requestsTotal.WithLabelValues(method, r, status).Inc()
	requestDuration.WithLabelValues(method, r).Observe(time.Since(start).Seconds())
}
