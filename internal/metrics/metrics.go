// Package metrics exposes the gateway's Prometheus instrumentation:
// request counters, job dispatch counts, audit write counters, rate-limit
// rejections, and search latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_search_duration_seconds",
			Help:    "Hybrid search duration in seconds by stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	JobsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_jobs_dispatched_total",
			Help: "Total number of jobs dispatched by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vortex_jobs_in_flight",
			Help: "Number of jobs currently pending or running by type",
		},
		[]string{"type"},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_audit_writes_total",
			Help: "Total number of audit log writes by chain",
		},
		[]string{"chain"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter by route",
		},
		[]string{"route"},
	)

	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_quota_exceeded_total",
			Help: "Total number of requests rejected for exceeding daily quota by tier",
		},
		[]string{"tier"},
	)

	InjectionBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_injection_blocked_total",
			Help: "Total number of requests blocked by the injection detector",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SearchLatency,
		JobsDispatchedTotal,
		JobsInFlight,
		AuditWritesTotal,
		RateLimitRejectionsTotal,
		QuotaExceededTotal,
		InjectionBlockedTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// ObserveVec records the elapsed duration to a label-partitioned histogram.
func (t *Timer) ObserveVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
