package ml

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
)

// Estimator kinds.
const (
	KindLogistic = "logistic"
	KindForest   = "forest"
	KindKernel   = "kernel"
	KindMLP      = "mlp"
)

// Classifier is the capability every base model and the meta-learner provide.
// PredictProba returns [P(label=0), P(label=1)].
type Classifier interface {
	Kind() string
	Fit(X [][]float64, y []int) error
	PredictProba(x []float64) ([]float64, error)
}

// EstimatorSpec names one pool member and its hyperparameters.
type EstimatorSpec struct {
	ID     string             `json:"id" yaml:"id"`
	Kind   string             `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params"`
}

// DefaultEstimators is one member per model family.
func DefaultEstimators() []EstimatorSpec {
	return []EstimatorSpec{
		{ID: "logistic", Kind: KindLogistic},
		{ID: "forest", Kind: KindForest},
		{ID: "kernel", Kind: KindKernel},
		{ID: "mlp", Kind: KindMLP},
	}
}

// DefaultMeta is the stacking meta-learner.
func DefaultMeta() EstimatorSpec {
	return EstimatorSpec{ID: "meta", Kind: KindLogistic}
}

func (s EstimatorSpec) param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// NewEstimator builds an unfitted classifier. The seed is mixed with the
// spec id so members of one pool draw from different streams.
func NewEstimator(spec EstimatorSpec, seed int64) (Classifier, error) {
	s := seed ^ idSeed(spec.ID)
	switch spec.Kind {
	case KindLogistic:
		return &LogisticRegression{
			L2:           spec.param("l2", 1e-3),
			LearningRate: spec.param("learning_rate", 0.1),
			Epochs:       int(spec.param("epochs", 500)),
		}, nil
	case KindForest:
		return &RandomForest{
			NumTrees: int(spec.param("trees", 50)),
			MaxDepth: int(spec.param("max_depth", 6)),
			MinLeaf:  int(spec.param("min_leaf", 2)),
			Seed:     s,
		}, nil
	case KindKernel:
		return &KernelClassifier{
			Gamma:      spec.param("gamma", 0),
			Smoothing:  spec.param("smoothing", 1e-3),
			MaxSupport: int(spec.param("max_support", 2000)),
			Seed:       s,
		}, nil
	case KindMLP:
		return &NeuralNetwork{
			Hidden:       int(spec.param("hidden", 16)),
			LearningRate: spec.param("learning_rate", 0.05),
			Epochs:       int(spec.param("epochs", 200)),
			L2:           spec.param("l2", 1e-4),
			Seed:         s,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

// ValidateSpecs checks ids are unique and kinds are known.
func ValidateSpecs(specs []EstimatorSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return fmt.Errorf("estimator with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate estimator id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if _, err := NewEstimator(s, 0); err != nil {
			return err
		}
	}
	return nil
}

func idSeed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64() & math.MaxInt64)
}

// encodedClassifier is the persisted form of a fitted classifier.
type encodedClassifier struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

func encodeClassifier(c Classifier) (encodedClassifier, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return encodedClassifier{}, fmt.Errorf("encode %s: %w", c.Kind(), err)
	}
	return encodedClassifier{Kind: c.Kind(), Params: raw}, nil
}

func decodeClassifier(e encodedClassifier) (Classifier, error) {
	var c Classifier
	switch e.Kind {
	case KindLogistic:
		c = &LogisticRegression{}
	case KindForest:
		c = &RandomForest{}
	case KindKernel:
		c = &KernelClassifier{}
	case KindMLP:
		c = &NeuralNetwork{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if err := json.Unmarshal(e.Params, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return c, nil
}

// checkTrainingSet validates shapes and that both labels are present.
func checkTrainingSet(X [][]float64, y []int) (width int, err error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: empty training set", ErrInsufficientSamples)
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", ErrSchemaMismatch, len(X), len(y))
	}
	width = len(X[0])
	var pos int
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has width %d, want %d", ErrSchemaMismatch, i, len(row), width)
		}
		switch y[i] {
		case 0:
		case 1:
			pos++
		default:
			return 0, fmt.Errorf("label %d at row %d outside {0,1}", y[i], i)
		}
	}
	if pos == 0 || pos == len(y) {
		return 0, fmt.Errorf("%w: only one class present", ErrDegenerateTarget)
	}
	return width, nil
}

func checkWidth(x []float64, width int) error {
	if width == 0 {
		return ErrNotFitted
	}
	if len(x) != width {
		return fmt.Errorf("%w: input width %d, fitted width %d", ErrSchemaMismatch, len(x), width)
	}
	return nil
}

func binary(p float64) []float64 {
	return []float64{1 - p, p}
}

func allFinite(vs ...[]float64) bool {
	for _, v := range vs {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
