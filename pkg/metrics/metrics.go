// Package metrics exposes Prometheus collectors for registrations, attendance
// attempts and HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "faceattend"

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_recognized"
	OutcomeNoFace       = "no_face"
	OutcomeFailed       = "detection_failed"
	OutcomeBadInput     = "missing_input"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// Metrics bundles the collectors. Each instance owns its registry so tests
// and multiple servers do not collide on global registration.
type Metrics struct {
	Registry *prometheus.Registry

	Registrations   *prometheus.CounterVec
	Attendance      *prometheus.CounterVec
	Similarity      prometheus.Histogram
	ExtractDuration *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		Attendance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_attempts_total",
			Help:      "Attendance attempts by outcome.",
		}, []string{"outcome"}),
		Similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_similarity",
			Help:      "Best cosine similarity of accepted matches.",
			Buckets:   []float64{0.8, 0.85, 0.9, 0.925, 0.95, 0.975, 0.99, 1},
		}),
		ExtractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_duration_seconds",
			Help:      "Embedding extraction latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"extractor"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.Registrations,
		m.Attendance,
		m.Similarity,
		m.ExtractDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRegistration counts a registration outcome. Safe on a nil receiver.
func (m *Metrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

// ObserveAttendance counts an attendance outcome and, for matches, the similarity.
func (m *Metrics) ObserveAttendance(outcome string, similarity float64) {
	if m == nil {
		return
	}
	m.Attendance.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.Similarity.Observe(similarity)
	}
}

// ObserveExtract records how long an extraction took.
func (m *Metrics) ObserveExtract(extractor string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractDuration.WithLabelValues(extractor).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
