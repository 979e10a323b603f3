package ml

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BaseModel is one fitted member of the pool.
type BaseModel struct {
	ID         string
	Classifier Classifier
}

// UnavailableModel records a pool member excluded during training.
type UnavailableModel struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Pool is an ordered, immutable set of fitted base models.
type Pool struct {
	models []BaseModel
	index  map[string]int
}

// NewPool wraps fitted models in the given order.
func NewPool(models []BaseModel) (*Pool, error) {
	if len(models) == 0 {
		return nil, ErrInsufficientModels
	}
	index := make(map[string]int, len(models))
	for i, m := range models {
		if _, dup := index[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		if m.Classifier == nil {
			return nil, fmt.Errorf("model %q has no classifier", m.ID)
		}
		index[m.ID] = i
	}
	return &Pool{models: append([]BaseModel(nil), models...), index: index}, nil
}

// TrainPool fits every spec independently on the same matrix. Members that
// fail to fit are excluded and reported; the pool needs at least one.
func TrainPool(ctx context.Context, specs []EstimatorSpec, X [][]float64, y []int, seed int64) (*Pool, []UnavailableModel, error) {
	fitted := make([]Classifier, len(specs))
	failures := make([]error, len(specs))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			c, err := NewEstimator(spec, seed)
			if err == nil {
				err = c.Fit(X, y)
			}
			if err != nil {
				failures[i] = err
				return nil
			}
			fitted[i] = c
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var models []BaseModel
	var unavailable []UnavailableModel
	for i, spec := range specs {
		if failures[i] != nil {
			log.Warn().Str("model", spec.ID).Str("kind", spec.Kind).Err(failures[i]).Msg("Excluding base model")
			unavailable = append(unavailable, UnavailableModel{ID: spec.ID, Kind: spec.Kind, Reason: failures[i].Error()})
			continue
		}
		models = append(models, BaseModel{ID: spec.ID, Classifier: fitted[i]})
	}
	if len(models) == 0 {
		return nil, unavailable, fmt.Errorf("%w: all %d base models failed to fit", ErrInsufficientModels, len(specs))
	}

	pool, err := NewPool(models)
	return pool, unavailable, err
}

// Order returns the model ids in pool order.
func (p *Pool) Order() []string {
	ids := make([]string, len(p.models))
	for i, m := range p.models {
		ids[i] = m.ID
	}
	return ids
}

// Len is the number of models.
func (p *Pool) Len() int {
	return len(p.models)
}

// Model looks up a member by id.
func (p *Pool) Model(id string) (Classifier, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.models[i].Classifier, true
}

// Models returns the members in pool order.
func (p *Pool) Models() []BaseModel {
	return append([]BaseModel(nil), p.models...)
}

// PredictDistribution runs every member on x concurrently and returns the
// probability vectors keyed by model id.
func (p *Pool) PredictDistribution(ctx context.Context, x []float64) (map[string][]float64, error) {
	var mu sync.Mutex
	out := make(map[string][]float64, len(p.models))

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range p.models {
		m := m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			probs, err := m.Classifier.PredictProba(x)
			if err != nil {
				return fmt.Errorf("model %s: %w", m.ID, err)
			}
			mu.Lock()
			out[m.ID] = probs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
