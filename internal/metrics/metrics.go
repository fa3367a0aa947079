// Package metrics exposes Prometheus counters for checkout submissions,
// payment confirmations, status polls and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	Submissions   *prometheus.CounterVec
	Confirmations *prometheus.CounterVec
	Polls         *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "submissions_total",
			Help:      "Checkout submissions by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "returns_total",
			Help:      "Gateway returns by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "polls_total",
			Help:      "Order status polls by observed status.",
		}, []string{"status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "purchase_notifications_total",
			Help:      "Purchase-completed notifications by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}

	m.registry.MustRegister(
		m.Submissions, m.Confirmations, m.Polls, m.Notifications, m.Requests, m.LatencyMS,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Submission counts a checkout submission outcome.
func (m *Metrics) Submission(gateway, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(gateway, outcome).Inc()
}

// Return counts a gateway return outcome.
func (m *Metrics) Return(gateway, outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(gateway, outcome).Inc()
}

// Poll counts an observed order status.
func (m *Metrics) Poll(status string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(status).Inc()
}

// Notification counts a purchase-completed notification attempt.
func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(handler string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Milliseconds()))
}
