package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keiba"

// Metrics holds the collectors the engine exposes. A single instance is
// created at startup and handed to the service, trainer and HTTP layers.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsGenerated *prometheus.CounterVec
	PredictionsFailed    *prometheus.CounterVec
	PredictionLatency    prometheus.Histogram
	StoreQueryDuration   *prometheus.HistogramVec
	ActiveModelInfo      *prometheus.GaugeVec
	TrainingDuration     prometheus.Histogram
	HTTPRequests         *prometheus.CounterVec
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PredictionsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_generated_total",
			Help:      "Prediction bundles generated, by final flag.",
		}, []string{"is_final"}),
		PredictionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_failed_total",
			Help:      "Prediction attempts that returned an error, by failure kind.",
		}, []string{"kind"}),
		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "End-to-end latency of one prediction.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		StoreQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Store query latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		ActiveModelInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_model_info",
			Help:      "Set to 1 for the currently active model version per surface.",
		}, []string{"surface", "version"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall-clock duration of a retrain run.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 8),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "REST requests by route and status class.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.PredictionsGenerated,
		m.PredictionsFailed,
		m.PredictionLatency,
		m.StoreQueryDuration,
		m.ActiveModelInfo,
		m.TrainingDuration,
		m.HTTPRequests,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveQuery records one store query duration.
func (m *Metrics) ObserveQuery(op string, start time.Time) {
	m.StoreQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetActiveModel marks a model version as live for a surface, clearing the
// previous version gauge for that surface.
func (m *Metrics) SetActiveModel(surface, version string) {
	m.ActiveModelInfo.DeletePartialMatch(prometheus.Labels{"surface": surface})
	m.ActiveModelInfo.WithLabelValues(surface, version).Set(1)
}
