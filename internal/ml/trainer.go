package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"propcast/internal/common"
	"propcast/internal/features"
)

// Dataset is a labelled training matrix in FeatureOrder.
type Dataset struct {
	FeatureOrder []string
	X            [][]float64
	Y            []int
	Subjects     []string
}

// Validate checks the dataset is rectangular and matches its feature order.
func (d Dataset) Validate() error {
	if err := features.NewSchema(d.FeatureOrder).Validate(); err != nil {
		return err
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrSchemaMismatch, len(d.X), len(d.Y))
	}
	if len(d.Subjects) != 0 && len(d.Subjects) != len(d.X) {
		return fmt.Errorf("%w: %d rows, %d subjects", ErrSchemaMismatch, len(d.X), len(d.Subjects))
	}
	for i, row := range d.X {
		if len(row) != len(d.FeatureOrder) {
			return fmt.Errorf("%w: row %d has width %d, feature order has %d", ErrSchemaMismatch, i, len(row), len(d.FeatureOrder))
		}
	}
	return nil
}

// TrainingConfig controls a training run.
type TrainingConfig struct {
	Folds           int
	Seed            int64
	HoldoutFraction float64
	Threshold       float64
	Models          []EstimatorSpec
	Meta            EstimatorSpec
	ReferenceModel  string
	Explain         ExplainConfig
}

// versionLayout sorts chronologically and separates runs finishing within
// the same second.
const versionLayout = "20060102-150405.000000"

// DefaultTrainingConfig uses one estimator per family and five folds.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Folds:           DefaultFolds,
		Seed:            common.DefaultTrainingSeed,
		HoldoutFraction: common.DefaultHoldoutFraction,
		Threshold:       0.5,
		Models:          DefaultEstimators(),
		Meta:            DefaultMeta(),
		Explain:         DefaultExplainConfig(),
	}
}

// Validate checks the configuration before any fitting starts.
func (c TrainingConfig) Validate() error {
	if c.Folds < common.MinStackingFolds {
		return fmt.Errorf("folds must be at least %d, got %d", common.MinStackingFolds, c.Folds)
	}
	if c.HoldoutFraction < 0 || c.HoldoutFraction > common.MaxHoldout {
		return fmt.Errorf("holdout fraction must be in [0, %v], got %v", common.MaxHoldout, c.HoldoutFraction)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0,1), got %v", c.Threshold)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: no base models configured", ErrInsufficientModels)
	}
	if err := ValidateSpecs(c.Models); err != nil {
		return err
	}
	if _, err := NewEstimator(c.Meta, 0); err != nil {
		return fmt.Errorf("meta-learner: %w", err)
	}
	return nil
}

// Trainer produces artifacts. It never touches a live Registry.
type Trainer struct {
	cfg     TrainingConfig
	metrics MetricsInterface
	now     func() time.Time
}

// NewTrainer validates cfg.
func NewTrainer(cfg TrainingConfig, metrics MetricsInterface) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, metrics: metricsOrNoop(metrics), now: time.Now}, nil
}

// Train fits the full ensemble on ds. Cancellation is checked between
// stages and inside the fold loops; a cancelled run returns ctx.Err().
func (t *Trainer) Train(ctx context.Context, ds Dataset) (*Artifact, error) {
	start := t.now()
	t.metrics.TrainingRunsInc()

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	cfg := t.cfg
	schema := features.NewSchema(ds.FeatureOrder)

	trainIdx, holdIdx, err := holdoutSplit(len(ds.X), cfg.HoldoutFraction, cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, err
	}
	Xtr, ytr := subsetRows(ds.X, trainIdx), subsetLabels(ds.Y, trainIdx)
	Xho, yho := subsetRows(ds.X, holdIdx), subsetLabels(ds.Y, holdIdx)

	scaler, err := FitScaler(Xtr)
	if err != nil {
		return nil, err
	}
	Xtr, err = scaler.TransformAll(Xtr)
	if err != nil {
		return nil, err
	}
	Xho, err = scaler.TransformAll(Xho)
	if err != nil {
		return nil, err
	}

	folds, err := KFold(len(Xtr), cfg.Folds, cfg.Seed)
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", len(Xtr)).Int("holdout", len(Xho)).Int("folds", cfg.Folds).Int("models", len(cfg.Models)).Msg("Building out-of-fold predictions")

	oof, err := BuildOutOfFold(ctx, cfg.Models, Xtr, ytr, folds, cfg.Seed)
	if err != nil {
		if oof != nil {
			t.countFailures(oof.Unavailable)
		}
		return nil, err
	}
	unavailable := append([]UnavailableModel(nil), oof.Unavailable...)

	pool, fitFailures, err := TrainPool(ctx, specsFor(cfg.Models, oof.Order), Xtr, ytr, cfg.Seed)
	unavailable = append(unavailable, fitFailures...)
	t.countFailures(unavailable)
	if err != nil {
		return nil, err
	}
	if len(fitFailures) > 0 {
		oof = oof.Restrict(pool.Order())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stacker, err := TrainStacker(oof, ytr, cfg.Meta, cfg.Seed)
	if err != nil {
		return nil, err
	}

	evalX, evalY := Xho, yho
	if len(evalX) == 0 {
		log.Warn().Msg("No holdout rows, metrics are computed on the training split")
		evalX, evalY = Xtr, ytr
	}
	summary, err := evaluateEnsemble(ctx, pool, stacker, evalX, evalY, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	reference := cfg.ReferenceModel
	if _, ok := pool.Model(reference); !ok {
		if reference != "" {
			log.Warn().Str("model", reference).Str("fallback", summary.BestModel).Msg("Configured reference model unavailable")
		}
		reference = summary.BestModel
	}
	refModel, _ := pool.Model(reference)
	importance, err := PermutationImportance(refModel, schema.Names, evalX, evalY, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	trainedAt := t.now().UTC()
	summary.Samples = len(ds.X)
	summary.TrainSamples = len(Xtr)
	summary.HoldoutSamples = len(Xho)
	summary.Folds = cfg.Folds
	summary.Unavailable = unavailable
	summary.FeatureImportance = importance
	summary.DurationSeconds = trainedAt.Sub(start).Seconds()

	artifact, err := newArtifact(&Artifact{
		version:        trainedAt.Format(versionLayout),
		trainedAt:      trainedAt,
		schema:         schema,
		scaler:         scaler,
		pool:           pool,
		stacker:        stacker,
		referenceModel: reference,
		folds:          cfg.Folds,
		seed:           cfg.Seed,
		explain:        cfg.Explain,
		summary:        summary,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("version", artifact.Version()).
		Strs("models", pool.Order()).
		Str("best_model", summary.BestModel).
		Float64("blended_auc", summary.Blended.AUCScore).
		Float64("blended_f1", summary.Blended.F1Score).
		Msg("Training complete")
	return artifact, nil
}

func (t *Trainer) countFailures(unavailable []UnavailableModel) {
	for range unavailable {
		t.metrics.ModelFitFailuresInc()
	}
}

// evaluateEnsemble scores every base model and the blend on X and picks the
// best base model by AUC, ties going to the earlier model.
func evaluateEnsemble(ctx context.Context, pool *Pool, stacker *Stacker, X [][]float64, y []int, threshold float64) (TrainingSummary, error) {
	order := pool.Order()
	baseProbs := make(map[string][]float64, len(order))
	blended := make([]float64, len(X))

	for i, row := range X {
		preds, err := pool.PredictDistribution(ctx, row)
		if err != nil {
			return TrainingSummary{}, err
		}
		for id, p := range preds {
			baseProbs[id] = append(baseProbs[id], p[1])
		}
		b, err := stacker.Combine(preds)
		if err != nil {
			return TrainingSummary{}, err
		}
		blended[i] = b[1]
	}

	summary := TrainingSummary{BaseModels: make(map[string]ModelMetrics, len(order))}
	bestAUC := math.Inf(-1)
	for _, id := range order {
		m := Evaluate(y, baseProbs[id], threshold)
		summary.BaseModels[id] = m
		if m.AUCScore > bestAUC {
			bestAUC = m.AUCScore
			summary.BestModel = id
		}
	}
	summary.Blended = Evaluate(y, blended, threshold)
	return summary, nil
}

// holdoutSplit shuffles row indices with seed and reserves fraction of them.
// The training split must still hold at least one row per fold.
func holdoutSplit(n int, fraction float64, folds int, seed int64) (train, holdout []int, err error) {
	nHold := int(math.Round(float64(n) * fraction))
	if n-nHold < folds {
		return nil, nil, fmt.Errorf("%w: %d rows leave %d for %d folds", ErrInsufficientSamples, n, n-nHold, folds)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	holdout = append([]int(nil), perm[:nHold]...)
	train = append([]int(nil), perm[nHold:]...)
	sort.Ints(holdout)
	sort.Ints(train)
	return train, holdout, nil
}

func specsFor(specs []EstimatorSpec, ids []string) []EstimatorSpec {
	byID := make(map[string]EstimatorSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	out := make([]EstimatorSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}
