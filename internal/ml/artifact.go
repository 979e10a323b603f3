package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"propcast/internal/features"
)

const artifactFormatVersion = 1

// TrainingSummary is recorded with every artifact.
type TrainingSummary struct {
	Samples           int                     `json:"samples"`
	TrainSamples      int                     `json:"train_samples"`
	HoldoutSamples    int                     `json:"holdout_samples"`
	Folds             int                     `json:"folds"`
	BaseModels        map[string]ModelMetrics `json:"base_models"`
	Blended           ModelMetrics            `json:"blended"`
	BestModel         string                  `json:"best_model"`
	Unavailable       []UnavailableModel      `json:"unavailable,omitempty"`
	FeatureImportance []FeatureStats          `json:"feature_importance,omitempty"`
	DurationSeconds   float64                 `json:"duration_seconds"`
}

// Artifact is a fully trained, immutable ensemble. It is superseded by a new
// Artifact, never modified in place.
type Artifact struct {
	version        string
	trainedAt      time.Time
	schema         features.Schema
	scaler         *StandardScaler
	pool           *Pool
	stacker        *Stacker
	referenceModel string
	folds          int
	seed           int64
	explain        ExplainConfig
	summary        TrainingSummary
}

func newArtifact(a *Artifact) (*Artifact, error) {
	if err := a.schema.Validate(); err != nil {
		return nil, err
	}
	if a.scaler == nil || a.scaler.Width() != a.schema.Width() {
		return nil, fmt.Errorf("%w: scaler does not match feature order", ErrSchemaMismatch)
	}
	if a.pool == nil || a.stacker == nil {
		return nil, ErrInsufficientModels
	}
	poolOrder, stackOrder := a.pool.Order(), a.stacker.Order()
	if len(poolOrder) != len(stackOrder) {
		return nil, fmt.Errorf("%w: pool has %d models, stacker expects %d", ErrModelOrderMismatch, len(poolOrder), len(stackOrder))
	}
	for i := range poolOrder {
		if poolOrder[i] != stackOrder[i] {
			return nil, fmt.Errorf("%w: position %d is %q in pool, %q in stacker", ErrModelOrderMismatch, i, poolOrder[i], stackOrder[i])
		}
	}
	if _, ok := a.pool.Model(a.referenceModel); !ok {
		return nil, fmt.Errorf("reference model %q is not in the pool", a.referenceModel)
	}

	// Probe shapes with a neutral input so mismatches surface at load time.
	origin := make([]float64, a.schema.Width())
	probe := make(map[string][]float64, len(poolOrder))
	for _, m := range a.pool.Models() {
		if _, err := m.Classifier.PredictProba(origin); err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		probe[m.ID] = []float64{0.5, 0.5}
	}
	if _, err := a.stacker.Combine(probe); err != nil {
		return nil, fmt.Errorf("%w: meta-learner rejects stacked input: %v", ErrModelOrderMismatch, err)
	}
	return a, nil
}

// Version identifies the artifact.
func (a *Artifact) Version() string { return a.version }

// TrainingTimestamp is when training finished.
func (a *Artifact) TrainingTimestamp() time.Time { return a.trainedAt }

// FeatureOrder returns a copy of the schema fixed at training.
func (a *Artifact) FeatureOrder() []string { return append([]string(nil), a.schema.Names...) }

// ModelIdentities returns the surviving base models in stacking order.
func (a *Artifact) ModelIdentities() []string { return a.pool.Order() }

// Schema is the feature schema.
func (a *Artifact) Schema() features.Schema { return features.NewSchema(a.schema.Names) }

// ReferenceModel is the base model used for attribution.
func (a *Artifact) ReferenceModel() string { return a.referenceModel }

// Folds is the out-of-fold partition count used for stacking.
func (a *Artifact) Folds() int { return a.folds }

// Summary returns the training summary.
func (a *Artifact) Summary() TrainingSummary { return a.summary }

// Scaler returns the scaler fitted at training time.
func (a *Artifact) Scaler() StandardScaler {
	return StandardScaler{
		Means:   append([]float64(nil), a.scaler.Means...),
		Stddevs: append([]float64(nil), a.scaler.Stddevs...),
	}
}

// ensembleOutput is everything one forward pass produces.
type ensembleOutput struct {
	Blended []float64
	Base    map[string][]float64
	Scaled  []float64
}

func (a *Artifact) predict(ctx context.Context, vec features.FeatureVector) (ensembleOutput, error) {
	if err := a.schema.Check(vec); err != nil {
		return ensembleOutput{}, err
	}
	scaled, err := a.scaler.Transform(vec.Values)
	if err != nil {
		return ensembleOutput{}, err
	}
	base, err := a.pool.PredictDistribution(ctx, scaled)
	if err != nil {
		return ensembleOutput{}, err
	}
	blended, err := a.stacker.Combine(base)
	if err != nil {
		return ensembleOutput{}, err
	}
	return ensembleOutput{Blended: blended, Base: base, Scaled: scaled}, nil
}

// attribute explains the reference model at an already scaled input. The
// baseline is the training mean, which is the origin in scaled space.
func (a *Artifact) attribute(scaled []float64) (Attribution, error) {
	model, _ := a.pool.Model(a.referenceModel)
	baseline := make([]float64, len(scaled))
	return NewExplainer(a.explain).Explain(a.referenceModel, model, a.schema.Names, scaled, baseline)
}

type persistedModel struct {
	ID string `json:"id"`
	encodedClassifier
}

type artifactEnvelope struct {
	FormatVersion  int              `json:"format_version"`
	Version        string           `json:"version"`
	TrainedAt      time.Time        `json:"trained_at"`
	FeatureOrder   []string         `json:"feature_order"`
	SchemaVersion  string           `json:"schema_version"`
	Scaler         StandardScaler   `json:"scaler"`
	ModelOrder     []string         `json:"model_order"`
	Models         []persistedModel `json:"models"`
	Meta           persistedModel   `json:"meta"`
	ReferenceModel string           `json:"reference_model"`
	Folds          int              `json:"folds"`
	Seed           int64            `json:"seed"`
	Explain        ExplainConfig    `json:"explain"`
	Summary        TrainingSummary  `json:"summary"`
}

// MarshalArtifact serialises a into a self-describing JSON document.
func MarshalArtifact(a *Artifact) ([]byte, error) {
	env := artifactEnvelope{
		FormatVersion:  artifactFormatVersion,
		Version:        a.version,
		TrainedAt:      a.trainedAt,
		FeatureOrder:   a.schema.Names,
		SchemaVersion:  a.schema.Version(),
		Scaler:         *a.scaler,
		ModelOrder:     a.pool.Order(),
		ReferenceModel: a.referenceModel,
		Folds:          a.folds,
		Seed:           a.seed,
		Explain:        a.explain,
		Summary:        a.summary,
	}
	for _, m := range a.pool.Models() {
		enc, err := encodeClassifier(m.Classifier)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		env.Models = append(env.Models, persistedModel{ID: m.ID, encodedClassifier: enc})
	}
	meta, err := encodeClassifier(a.stacker.Meta())
	if err != nil {
		return nil, fmt.Errorf("meta-learner: %w", err)
	}
	env.Meta = persistedModel{ID: "meta", encodedClassifier: meta}

	return json.Marshal(env)
}

// UnmarshalArtifact restores an artifact, failing closed on any disagreement
// between the persisted models and the recorded metadata.
func UnmarshalArtifact(data []byte) (*Artifact, error) {
	var env artifactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if env.FormatVersion != artifactFormatVersion {
		return nil, fmt.Errorf("unsupported artifact format %d", env.FormatVersion)
	}

	schema := features.NewSchema(env.FeatureOrder)
	if schema.Version() != env.SchemaVersion {
		return nil, fmt.Errorf("%w: feature order does not match recorded schema version", ErrSchemaMismatch)
	}

	if len(env.Models) != len(env.ModelOrder) {
		return nil, fmt.Errorf("%w: %d persisted models, %d in model order", ErrModelOrderMismatch, len(env.Models), len(env.ModelOrder))
	}
	models := make([]BaseModel, len(env.Models))
	for i, pm := range env.Models {
		if pm.ID != env.ModelOrder[i] {
			return nil, fmt.Errorf("%w: persisted model %d is %q, metadata says %q", ErrModelOrderMismatch, i, pm.ID, env.ModelOrder[i])
		}
		c, err := decodeClassifier(pm.encodedClassifier)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", pm.ID, err)
		}
		models[i] = BaseModel{ID: pm.ID, Classifier: c}
	}
	pool, err := NewPool(models)
	if err != nil {
		return nil, err
	}

	meta, err := decodeClassifier(env.Meta.encodedClassifier)
	if err != nil {
		return nil, fmt.Errorf("meta-learner: %w", err)
	}
	stacker, err := NewStacker(env.ModelOrder, meta)
	if err != nil {
		return nil, err
	}

	scaler := env.Scaler
	return newArtifact(&Artifact{
		version:        env.Version,
		trainedAt:      env.TrainedAt,
		schema:         schema,
		scaler:         &scaler,
		pool:           pool,
		stacker:        stacker,
		referenceModel: env.ReferenceModel,
		folds:          env.Folds,
		seed:           env.Seed,
		explain:        env.Explain,
		summary:        env.Summary,
	})
}
