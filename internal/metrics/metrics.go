// Package metrics exposes Prometheus metrics for the forecasting engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statuses is the fixed set of forecast statuses tracked by the status gauge
var statuses = []string{"initializing", "ready", "training", "model-ready", "unavailable"}

// Metrics holds all Prometheus metrics for the forecasting engine.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsTotal  *prometheus.CounterVec // labels: method
	FallbacksTotal    *prometheus.CounterVec // labels: reason
	TrainingRuns      *prometheus.CounterVec // labels: result, reason
	TrainingDuration  prometheus.Histogram
	Status            *prometheus.GaugeVec   // labels: status; 1 for the current one
	HTTPRequestsTotal *prometheus.CounterVec // labels: method, status
}

// NewMetrics creates the metrics on a private registry, together with the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_predictions_total",
			Help: "Predictions served, by producing method",
		}, []string{"method"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_prediction_fallbacks_total",
			Help: "Predictions served by the statistical fallback, by reason",
		}, []string{"reason"}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_training_runs_total",
			Help: "Training runs by result and failure reason",
		}, []string{"result", "reason"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "augur_training_duration_seconds",
			Help:    "Wall time of training runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "augur_forecast_status",
			Help: "Current forecast status (1 for the active status)",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.PredictionsTotal,
		m.FallbacksTotal,
		m.TrainingRuns,
		m.TrainingDuration,
		m.Status,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, s := range statuses {
		m.Status.WithLabelValues(s).Set(0)
	}

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PredictionServed counts a prediction by method
func (m *Metrics) PredictionServed(method string) {
	m.PredictionsTotal.WithLabelValues(method).Inc()
}

// FallbackUsed counts a statistical fallback by reason
func (m *Metrics) FallbackUsed(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// TrainingFinished records the outcome and duration of a training run
func (m *Metrics) TrainingFinished(success bool, reason string, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.TrainingRuns.WithLabelValues(result, reason).Inc()
	m.TrainingDuration.Observe(duration.Seconds())
}

// StatusChanged moves the status gauge to status
func (m *Metrics) StatusChanged(status string) {
	for _, s := range statuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.Status.WithLabelValues(s).Set(value)
	}
}

// RequestServed counts an HTTP request
func (m *Metrics) RequestServed(method string, status string) {
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
}
