package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's prometheus collectors. All Record methods are
// safe on a nil *Registry so library callers can run without metrics.
type Registry struct {
	AnalysesTotal       *prometheus.CounterVec
	RiskScores          *prometheus.HistogramVec
	GraphSessions       prometheus.Gauge
	PathBudgetExhausted *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	BatchJobsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every collector registered, plus the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Registry{
		registry: reg,
		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solguard_analyses_total",
			Help: "Analyses run, by kind",
		}, []string{"kind"}),
		RiskScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solguard_risk_score",
			Help:    "Distribution of final risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"entity_type"}),
		GraphSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "solguard_graph_sessions",
			Help: "Live flow graph sessions",
		}),
		PathBudgetExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solguard_path_budget_exhausted_total",
			Help: "Path or cycle enumerations cut short by the explored-path budget",
		}, []string{"operation"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solguard_alerts_total",
			Help: "Alerts raised, by severity",
		}, []string{"severity"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solguard_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solguard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BatchJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solguard_batch_jobs_total",
			Help: "Batch screening jobs, by outcome",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Registry) RecordAnalysis(kind string) {
	if r == nil {
		return
	}
	r.AnalysesTotal.WithLabelValues(kind).Inc()
}

func (r *Registry) RecordRiskScore(entityType string, score float64) {
	if r == nil {
		return
	}
	r.RiskScores.WithLabelValues(entityType).Observe(score)
}

func (r *Registry) SetGraphSessions(n int) {
	if r == nil {
		return
	}
	r.GraphSessions.Set(float64(n))
}

func (r *Registry) RecordBudgetExhausted(operation string) {
	if r == nil {
		return
	}
	r.PathBudgetExhausted.WithLabelValues(operation).Inc()
}

func (r *Registry) RecordAlert(severity string) {
	if r == nil {
		return
	}
	r.AlertsTotal.WithLabelValues(severity).Inc()
}

func (r *Registry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (r *Registry) RecordBatchJob(status string) {
	if r == nil {
		return
	}
	r.BatchJobsTotal.WithLabelValues(status).Inc()
}
