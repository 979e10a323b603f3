package ml

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"propcast/internal/common"
)

// DefaultFolds is the number of out-of-fold partitions used for stacking.
const DefaultFolds = common.DefaultStackingFolds

// Fold is one train/holdout partition of row indices.
type Fold struct {
	Train   []int `json:"train"`
	Holdout []int `json:"holdout"`
}

// KFold shuffles 0..n-1 with seed and splits it into k holdout blocks.
func KFold(n, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("fold count must be at least 2, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d rows for %d folds", ErrInsufficientSamples, n, k)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	folds := make([]Fold, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		holdout := append([]int(nil), perm[start:start+size]...)
		sort.Ints(holdout)
		folds[f].Holdout = holdout
		start += size
	}
	for f := range folds {
		for g := range folds {
			if g != f {
				folds[f].Train = append(folds[f].Train, folds[g].Holdout...)
			}
		}
		sort.Ints(folds[f].Train)
	}
	return folds, nil
}

// OutOfFold holds the meta-learner's training matrix. Row i concatenates
// every surviving model's probability vector for sample i, each produced by
// an estimator whose training fold excluded i.
type OutOfFold struct {
	Order       []string
	Rows        [][]float64
	Folds       []Fold
	SourceFold  []int
	Unavailable []UnavailableModel
}

// BuildOutOfFold fits each spec once per fold and predicts the held-out rows.
// A spec that fails on any fold is excluded from the stack.
func BuildOutOfFold(ctx context.Context, specs []EstimatorSpec, X [][]float64, y []int, folds []Fold, seed int64) (*OutOfFold, error) {
	n := len(X)
	sourceFold := make([]int, n)
	for i := range sourceFold {
		sourceFold[i] = -1
	}
	for f, fold := range folds {
		for _, i := range fold.Holdout {
			if i < 0 || i >= n || sourceFold[i] != -1 {
				return nil, fmt.Errorf("fold %d: row %d out of range or held out twice", f, i)
			}
			sourceFold[i] = f
		}
	}
	for i, f := range sourceFold {
		if f == -1 {
			return nil, fmt.Errorf("row %d is not held out by any fold", i)
		}
	}

	preds := make([][][]float64, len(specs))
	failures := make([]error, len(specs))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for s, spec := range specs {
		s, spec := s, spec
		g.Go(func() error {
			out := make([][]float64, n)
			for f, fold := range folds {
				if err := ctx.Err(); err != nil {
					failures[s] = err
					return nil
				}
				c, err := NewEstimator(spec, seed+int64(f))
				if err != nil {
					failures[s] = err
					return nil
				}
				if err := c.Fit(subsetRows(X, fold.Train), subsetLabels(y, fold.Train)); err != nil {
					failures[s] = fmt.Errorf("fold %d: %w", f, err)
					return nil
				}
				for _, i := range fold.Holdout {
					p, err := c.PredictProba(X[i])
					if err != nil {
						failures[s] = fmt.Errorf("fold %d: %w", f, err)
						return nil
					}
					out[i] = p
				}
			}
			preds[s] = out
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	oof := &OutOfFold{Folds: folds, SourceFold: sourceFold}
	var kept []int
	for s, spec := range specs {
		if failures[s] != nil {
			log.Warn().Str("model", spec.ID).Err(failures[s]).Msg("Excluding base model from stack")
			oof.Unavailable = append(oof.Unavailable, UnavailableModel{ID: spec.ID, Kind: spec.Kind, Reason: failures[s].Error()})
			continue
		}
		kept = append(kept, s)
		oof.Order = append(oof.Order, spec.ID)
	}
	if len(kept) == 0 {
		return oof, fmt.Errorf("%w: every base model failed during out-of-fold training", ErrInsufficientModels)
	}

	oof.Rows = make([][]float64, n)
	for i := range oof.Rows {
		row := make([]float64, 0, outputClasses*len(kept))
		for _, s := range kept {
			row = append(row, preds[s][i]...)
		}
		oof.Rows[i] = row
	}
	return oof, nil
}

// Restrict keeps only the columns of the models in order, which must be a
// subsequence of o.Order.
func (o *OutOfFold) Restrict(order []string) *OutOfFold {
	pos := make(map[string]int, len(o.Order))
	for i, id := range o.Order {
		pos[id] = i
	}
	out := &OutOfFold{
		Order:       append([]string(nil), order...),
		Folds:       o.Folds,
		SourceFold:  o.SourceFold,
		Unavailable: o.Unavailable,
		Rows:        make([][]float64, len(o.Rows)),
	}
	for i, row := range o.Rows {
		r := make([]float64, 0, outputClasses*len(order))
		for _, id := range order {
			c := pos[id] * outputClasses
			r = append(r, row[c:c+outputClasses]...)
		}
		out.Rows[i] = r
	}
	return out
}

// Stacker combines base-model probability vectors with a meta-learner.
type Stacker struct {
	order []string
	meta  Classifier
}

// NewStacker wraps a fitted meta-learner with the model order it was trained on.
func NewStacker(order []string, meta Classifier) (*Stacker, error) {
	if len(order) == 0 {
		return nil, ErrInsufficientModels
	}
	if meta == nil {
		return nil, fmt.Errorf("stacker has no meta-learner")
	}
	return &Stacker{order: append([]string(nil), order...), meta: meta}, nil
}

// TrainStacker fits the meta-learner on out-of-fold rows only.
func TrainStacker(oof *OutOfFold, y []int, spec EstimatorSpec, seed int64) (*Stacker, error) {
	meta, err := NewEstimator(spec, seed)
	if err != nil {
		return nil, err
	}
	if err := meta.Fit(oof.Rows, y); err != nil {
		return nil, fmt.Errorf("meta-learner: %w", err)
	}
	return NewStacker(oof.Order, meta)
}

// Order is the fixed model order of the meta-learner's input.
func (s *Stacker) Order() []string {
	return append([]string(nil), s.order...)
}

// Meta returns the fitted meta-learner.
func (s *Stacker) Meta() Classifier {
	return s.meta
}

// Combine concatenates preds in model order and runs the meta-learner.
func (s *Stacker) Combine(preds map[string][]float64) ([]float64, error) {
	if len(preds) != len(s.order) {
		return nil, fmt.Errorf("%w: got %d model outputs, want %d", ErrModelOrderMismatch, len(preds), len(s.order))
	}
	row := make([]float64, 0, outputClasses*len(s.order))
	for _, id := range s.order {
		p, ok := preds[id]
		if !ok {
			return nil, fmt.Errorf("%w: missing output for %q", ErrModelOrderMismatch, id)
		}
		if len(p) != outputClasses {
			return nil, fmt.Errorf("%w: model %q returned %d probabilities", ErrModelOrderMismatch, id, len(p))
		}
		row = append(row, p...)
	}
	return s.meta.PredictProba(row)
}

func subsetRows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = X[i]
	}
	return out
}

func subsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}
