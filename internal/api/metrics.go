package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed on /metrics. Each server
// owns its own registry so multiple servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Decisions          *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	InflightRequests   prometheus.Gauge
}

// NewMetrics creates and registers the decision engine instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_decisions_total",
				Help: "Total number of claim decisions by verdict and tier.",
			},
			[]string{"tenant_id", "verdict", "tier"},
		),
		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_evaluation_duration_seconds",
				Help:    "Latency of claim evaluations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant_id"},
		),
		InflightRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kestrel_http_inflight_requests",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}
}

// RecordDecision records one finished evaluation.
func (m *Metrics) RecordDecision(tenantID, verdict, tier string, duration time.Duration) {
	m.Decisions.WithLabelValues(tenantID, verdict, tier).Inc()
	m.EvaluationDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// Handler returns the exposition endpoint for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentMiddleware tracks requests currently in flight.
func (m *Metrics) InstrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.InflightRequests.Inc()
		defer m.InflightRequests.Dec()
		next.ServeHTTP(w, r)
	})
}
