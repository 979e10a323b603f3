// Package metrics provides Prometheus metrics collection for propcast.
// It defines the inference, artifact, training and signal metrics exposed via
// the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Inference metrics
	Inferences        prometheus.Counter   // Total number of calibrated predictions served
	InferenceFailures prometheus.Counter   // Total number of failed inference requests
	InferenceLatency  prometheus.Histogram // End-to-end inference latency in seconds
	Confidence        prometheus.Histogram // Distribution of calibrated confidences

	// Artifact metrics
	ArtifactAge     prometheus.Gauge   // Age of the active artifact in seconds
	ArtifactReloads prometheus.Counter // Total number of artifact swaps

	// Training metrics
	TrainingRuns     prometheus.Counter // Total number of training runs started
	ModelFitFailures prometheus.Counter // Total number of base models excluded during training

	// Signal metrics
	SignalUnavailable *prometheus.CounterVec // Signals that could not be resolved, by kind
	SignalCacheHits   *prometheus.CounterVec // Signals served from cache, by kind
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Inferences: factory.NewCounter(prometheus.CounterOpts{
			Name: "propcast_inferences_total",
			Help: "Total number of calibrated predictions served",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "propcast_inference_failures_total",
			Help: "Total number of failed inference requests",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "propcast_inference_latency_seconds",
			Help:    "Inference latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		Confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "propcast_confidence",
			Help:    "Distribution of calibrated confidence values",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ArtifactAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "propcast_artifact_age_seconds",
			Help: "Age of the active artifact in seconds",
		}),
		ArtifactReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "propcast_artifact_reloads_total",
			Help: "Total number of artifact swaps",
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "propcast_training_runs_total",
			Help: "Total number of training runs started",
		}),
		ModelFitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "propcast_model_fit_failures_total",
			Help: "Total number of base models excluded during training",
		}),
		SignalUnavailable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "propcast_signal_unavailable_total",
			Help: "Signals that could not be resolved",
		}, []string{"kind"}),
		SignalCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "propcast_signal_cache_hits_total",
			Help: "Signals served from cache",
		}, []string{"kind"}),
	}
}
