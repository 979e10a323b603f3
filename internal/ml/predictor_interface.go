// Package ml implements the calibrated-confidence ensemble: heterogeneous
// base classifiers, an out-of-fold stacking meta-learner, signal-driven
// confidence calibration and Shapley attribution, together with the artifact
// lifecycle (training, persistence, versioning and atomic hot swap).
//
// Training and inference are separate lifecycles. A Trainer produces an
// immutable Artifact; an Engine serves whatever Artifact the Registry holds.
package ml

import (
	"context"

	"propcast/internal/signals"
)

// Predictor is the inference surface consumed by the HTTP server.
type Predictor interface {
	// Infer assembles, scores, calibrates and explains one request.
	Infer(ctx context.Context, req InferenceRequest) (CalibratedPrediction, error)

	// InferBatch scores requests independently; signals are looked up by subject.
	InferBatch(ctx context.Context, reqs []InferenceRequest, sigs map[string]signals.Set) ([]CalibratedPrediction, error)

	// Explain attributes the reference model output for a raw mapping.
	Explain(ctx context.Context, mapping map[string]float64) (Attribution, error)
}

var _ Predictor = (*Engine)(nil)

// MetricsInterface defines metrics methods needed by training and inference
type MetricsInterface interface {
	InferencesInc()
	InferenceFailuresInc()
	InferenceLatencyObserve(float64)
	ConfidenceObserve(float64)
	ArtifactAgeSet(float64)
	ArtifactReloadsInc()
	TrainingRunsInc()
	ModelFitFailuresInc()
	SignalUnavailableInc(kind string)
}

type noopMetrics struct{}

func (noopMetrics) InferencesInc()                  {}
func (noopMetrics) InferenceFailuresInc()           {}
func (noopMetrics) InferenceLatencyObserve(float64) {}
func (noopMetrics) ConfidenceObserve(float64)       {}
func (noopMetrics) ArtifactAgeSet(float64)          {}
func (noopMetrics) ArtifactReloadsInc()             {}
func (noopMetrics) TrainingRunsInc()                {}
func (noopMetrics) ModelFitFailuresInc()            {}
func (noopMetrics) SignalUnavailableInc(string)     {}

func metricsOrNoop(m MetricsInterface) MetricsInterface {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
