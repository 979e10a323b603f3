package ml

import (
	"fmt"
	"math/rand"

	"propcast/internal/common"
)

// Attribution methods.
const (
	MethodExactShapley   = "exact_shapley"
	MethodSampledShapley = "sampled_shapley"
)

const attributionNote = "contributions decompose the reference base model's positive-class probability relative to the training mean; they do not account for stacking or calibration"

// ExplainConfig bounds the cost of attribution.
type ExplainConfig struct {
	MaxExactFeatures int   `json:"max_exact_features" yaml:"maxExactFeatures"`
	Samples          int   `json:"samples" yaml:"samples"`
	Seed             int64 `json:"seed" yaml:"seed"`
}

// DefaultExplainConfig enumerates exactly up to 10 features.
func DefaultExplainConfig() ExplainConfig {
	return ExplainConfig{
		MaxExactFeatures: common.DefaultMaxExactFeatures,
		Samples:          common.DefaultShapleySamples,
		Seed:             common.DefaultTrainingSeed,
	}
}

// Attribution is the per-feature decomposition of one model output.
// BaseValue plus the sum of Contributions equals Output.
type Attribution struct {
	ModelID       string             `json:"model_id"`
	Method        string             `json:"method"`
	BaseValue     float64            `json:"base_value"`
	Output        float64            `json:"output"`
	Contributions map[string]float64 `json:"contributions"`
	Approximate   bool               `json:"approximate"`
	Note          string             `json:"note"`
}

// Explainer computes Shapley values for a single classifier.
type Explainer struct {
	cfg ExplainConfig
}

// NewExplainer fills zero fields from the defaults.
func NewExplainer(cfg ExplainConfig) *Explainer {
	def := DefaultExplainConfig()
	if cfg.MaxExactFeatures <= 0 {
		cfg.MaxExactFeatures = def.MaxExactFeatures
	}
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	return &Explainer{cfg: cfg}
}

// Explain attributes model's positive-class probability at x to the named
// features. Absent features take their baseline value.
func (e *Explainer) Explain(modelID string, model Classifier, names []string, x, baseline []float64) (Attribution, error) {
	d := len(names)
	if len(x) != d || len(baseline) != d {
		return Attribution{}, fmt.Errorf("%w: %d names, input %d, baseline %d", ErrSchemaMismatch, d, len(x), len(baseline))
	}

	value := func(z []float64) (float64, error) {
		p, err := model.PredictProba(z)
		if err != nil {
			return 0, err
		}
		return p[1], nil
	}

	base, err := value(baseline)
	if err != nil {
		return Attribution{}, err
	}
	output, err := value(x)
	if err != nil {
		return Attribution{}, err
	}

	var phi []float64
	method := MethodExactShapley
	if d <= e.cfg.MaxExactFeatures {
		phi, err = exactShapley(value, x, baseline)
	} else {
		method = MethodSampledShapley
		phi, err = sampledShapley(value, x, baseline, e.cfg.Samples, e.cfg.Seed)
	}
	if err != nil {
		return Attribution{}, err
	}

	contributions := make(map[string]float64, d)
	for i, name := range names {
		contributions[name] = phi[i]
	}
	return Attribution{
		ModelID:       modelID,
		Method:        method,
		BaseValue:     base,
		Output:        output,
		Contributions: contributions,
		Approximate:   true,
		Note:          attributionNote,
	}, nil
}

// exactShapley evaluates every coalition once and weights marginal
// contributions by |S|!(d-|S|-1)!/d!.
func exactShapley(value func([]float64) (float64, error), x, baseline []float64) ([]float64, error) {
	d := len(x)
	total := 1 << d
	v := make([]float64, total)
	z := make([]float64, d)
	for mask := 0; mask < total; mask++ {
		for j := 0; j < d; j++ {
			if mask&(1<<j) != 0 {
				z[j] = x[j]
			} else {
				z[j] = baseline[j]
			}
		}
		out, err := value(z)
		if err != nil {
			return nil, err
		}
		v[mask] = out
	}

	weights := make([]float64, d)
	for s := 0; s < d; s++ {
		// s!(d-s-1)!/d! == 1 / (d * C(d-1, s))
		weights[s] = 1 / (float64(d) * binomial(d-1, s))
	}

	phi := make([]float64, d)
	for mask := 0; mask < total; mask++ {
		size := popcount(mask)
		for j := 0; j < d; j++ {
			if mask&(1<<j) != 0 {
				continue
			}
			phi[j] += weights[size] * (v[mask|1<<j] - v[mask])
		}
	}
	return phi, nil
}

// sampledShapley averages marginal contributions over seeded random
// orderings. Each ordering telescopes to output minus base, so the estimate
// stays locally accurate.
func sampledShapley(value func([]float64) (float64, error), x, baseline []float64, samples int, seed int64) ([]float64, error) {
	d := len(x)
	rng := rand.New(rand.NewSource(seed))
	phi := make([]float64, d)
	z := make([]float64, d)

	for r := 0; r < samples; r++ {
		copy(z, baseline)
		prev, err := value(z)
		if err != nil {
			return nil, err
		}
		for _, j := range rng.Perm(d) {
			z[j] = x[j]
			cur, err := value(z)
			if err != nil {
				return nil, err
			}
			phi[j] += cur - prev
			prev = cur
		}
	}
	for j := range phi {
		phi[j] /= float64(samples)
	}
	return phi, nil
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

func popcount(v int) int {
	c := 0
	for v != 0 {
		v &= v - 1
		c++
	}
	return c
}
