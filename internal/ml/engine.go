package ml

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"propcast/internal/features"
	"propcast/internal/signals"
)

// InferenceRequest is one subject's raw features plus any signals the caller
// already holds for that subject.
type InferenceRequest struct {
	Subject   string                   `json:"subject" validate:"required"`
	Features  map[string]float64       `json:"features" validate:"required"`
	Sentiment *signals.SentimentSignal `json:"sentiment,omitempty"`
	Momentum  *signals.MomentumSignal  `json:"momentum,omitempty"`
}

// CalibratedPrediction is the final, immutable result of one inference.
type CalibratedPrediction struct {
	Subject           string             `json:"subject"`
	Label             int                `json:"label"`
	Probability       float64            `json:"probability"`
	Confidence        float64            `json:"confidence"`
	Attribution       *Attribution       `json:"attribution,omitempty"`
	BaseProbabilities map[string]float64 `json:"base_probabilities"`
	SentimentFactor   float64            `json:"sentiment_factor"`
	MomentumFactor    float64            `json:"momentum_factor"`
	ModelVersion      string             `json:"model_version"`
	Defaulted         []string           `json:"defaulted,omitempty"`
}

// EngineConfig controls inference behaviour.
type EngineConfig struct {
	Policy             features.Policy
	Threshold          float64
	AttributionOnInfer bool
}

// DefaultEngineConfig zero-fills missing features and attaches attributions.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Policy: features.DefaultPolicy(), Threshold: 0.5, AttributionOnInfer: true}
}

// Engine serves inference against whatever artifact the registry holds.
// It never trains.
type Engine struct {
	registry   *Registry
	calibrator *Calibrator
	cfg        EngineConfig
	metrics    MetricsInterface
}

// NewEngine wires an engine.
func NewEngine(registry *Registry, calibrator *Calibrator, cfg EngineConfig, metrics MetricsInterface) *Engine {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.5
	}
	return &Engine{registry: registry, calibrator: calibrator, cfg: cfg, metrics: metricsOrNoop(metrics)}
}

// Artifact returns the artifact currently being served.
func (e *Engine) Artifact() (*Artifact, error) {
	return e.registry.Current()
}

// Infer scores one request. The artifact is read once so a concurrent swap
// cannot mix versions within a single call.
func (e *Engine) Infer(ctx context.Context, req InferenceRequest) (CalibratedPrediction, error) {
	a, err := e.registry.Current()
	if err != nil {
		e.metrics.InferencesInc()
		e.metrics.InferenceFailuresInc()
		return CalibratedPrediction{}, err
	}
	return e.inferWith(ctx, a, req)
}

func (e *Engine) inferWith(ctx context.Context, a *Artifact, req InferenceRequest) (CalibratedPrediction, error) {
	start := time.Now()
	e.metrics.InferencesInc()

	pred, err := e.infer(ctx, a, req)
	e.metrics.InferenceLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		e.metrics.InferenceFailuresInc()
		log.Debug().Err(err).Str("subject", req.Subject).Msg("Inference failed")
		return CalibratedPrediction{}, err
	}
	e.metrics.ConfidenceObserve(pred.Confidence)
	return pred, nil
}

func (e *Engine) infer(ctx context.Context, a *Artifact, req InferenceRequest) (CalibratedPrediction, error) {
	vec, err := features.Assemble(req.Features, a.schema, e.cfg.Policy)
	if err != nil {
		return CalibratedPrediction{}, err
	}
	out, err := a.predict(ctx, vec)
	if err != nil {
		return CalibratedPrediction{}, err
	}

	p := out.Blended[1]
	sentiment, momentum := e.checkSignals(req)
	cal := e.calibrator.Calibrate(req.Subject, p, sentiment, momentum)

	pred := CalibratedPrediction{
		Subject:           req.Subject,
		Probability:       p,
		Confidence:        cal.Confidence,
		BaseProbabilities: make(map[string]float64, len(out.Base)),
		SentimentFactor:   cal.SentimentFactor,
		MomentumFactor:    cal.MomentumFactor,
		ModelVersion:      a.Version(),
		Defaulted:         vec.Defaulted,
	}
	if p >= e.cfg.Threshold {
		pred.Label = 1
	}
	for id, probs := range out.Base {
		pred.BaseProbabilities[id] = probs[1]
	}

	if e.cfg.AttributionOnInfer {
		attr, err := a.attribute(out.Scaled)
		if err != nil {
			return CalibratedPrediction{}, fmt.Errorf("attribution: %w", err)
		}
		pred.Attribution = &attr
	}
	return pred, nil
}

// checkSignals drops signals that break their documented ranges. A dropped
// signal is treated as absent, the same as one the resolver could not find.
func (e *Engine) checkSignals(req InferenceRequest) (*signals.SentimentSignal, *signals.MomentumSignal) {
	sentiment, momentum := req.Sentiment, req.Momentum
	if sentiment != nil {
		if err := sentiment.Validate(); err != nil {
			log.Warn().Err(err).Str("subject", req.Subject).Msg("Ignoring invalid sentiment signal")
			e.metrics.SignalUnavailableInc(signals.KindSentiment)
			sentiment = nil
		}
	}
	if momentum != nil {
		if err := momentum.Validate(); err != nil {
			log.Warn().Err(err).Str("subject", req.Subject).Msg("Ignoring invalid momentum signal")
			e.metrics.SignalUnavailableInc(signals.KindMomentum)
			momentum = nil
		}
	}
	return sentiment, momentum
}

// InferBatch scores requests concurrently against a single artifact, so
// every result carries the same model version. Signals are matched to
// requests by subject; a request's own signals take precedence over sigs.
// Results keep request order.
func (e *Engine) InferBatch(ctx context.Context, reqs []InferenceRequest, sigs map[string]signals.Set) ([]CalibratedPrediction, error) {
	a, err := e.registry.Current()
	if err != nil {
		return nil, err
	}
	out := make([]CalibratedPrediction, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		if set, ok := sigs[req.Subject]; ok {
			if req.Sentiment == nil {
				req.Sentiment = set.Sentiment
			}
			if req.Momentum == nil {
				req.Momentum = set.Momentum
			}
		}
		g.Go(func() error {
			pred, err := e.inferWith(ctx, a, req)
			if err != nil {
				return fmt.Errorf("subject %s: %w", req.Subject, err)
			}
			out[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain attributes the reference model's output for mapping.
func (e *Engine) Explain(ctx context.Context, mapping map[string]float64) (Attribution, error) {
	a, err := e.registry.Current()
	if err != nil {
		return Attribution{}, err
	}
	vec, err := features.Assemble(mapping, a.schema, e.cfg.Policy)
	if err != nil {
		return Attribution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Attribution{}, err
	}
	scaled, err := a.scaler.Transform(vec.Values)
	if err != nil {
		return Attribution{}, err
	}
	return a.attribute(scaled)
}

// FilterByConfidence keeps predictions at or above minConfidence, highest
// confidence first.
func FilterByConfidence(preds []CalibratedPrediction, minConfidence float64) []CalibratedPrediction {
	out := make([]CalibratedPrediction, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
