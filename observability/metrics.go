package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"collarfi/native/common"
)

type txMetrics struct {
	transactions *prometheus.CounterVec
	reverts      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       prometheus.Counter
}

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	txMetricsOnce sync.Once
	txRegistry    *txMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

// Transactions returns the lazily-initialised registry recording protocol
// transaction outcomes.
func Transactions() *txMetrics {
	txMetricsOnce.Do(func() {
		txRegistry = &txMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "tx",
				Name:      "total",
				Help:      "Total protocol transactions segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "tx",
				Name:      "reverts_total",
				Help:      "Reverted transactions segmented by operation and error kind.",
			}, []string{"op", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "collarfi",
				Subsystem: "tx",
				Name:      "duration_seconds",
				Help:      "Latency distribution for protocol transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			events: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "tx",
				Name:      "events_delivered_total",
				Help:      "Events delivered to subscribers after commit.",
			}),
		}
		prometheus.MustRegister(
			txRegistry.transactions,
			txRegistry.reverts,
			txRegistry.latency,
			txRegistry.events,
		)
	})
	return txRegistry
}

// Observe records one transaction. A nil err counts as committed.
func (m *txMetrics) Observe(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "committed"
	if err != nil {
		outcome = "reverted"
		m.reverts.WithLabelValues(op, errorKind(err)).Inc()
	}
	m.transactions.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEvents adds n delivered events.
func (m *txMetrics) RecordEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.Add(float64(n))
}

func errorKind(err error) string {
	if errors.Is(err, common.ErrModulePaused) {
		return "paused"
	}
	return common.KindOf(err).String()
}

// API returns the lazily-initialised registry for the daemon's HTTP API.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "collarfi",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so
// dashboards and alerts remain consistent.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}
