package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// KernelClassifier is an RBF kernel density classifier. The positive-class
// probability is the kernel-weighted label average over a bounded support
// set, smoothed toward the training prior where the kernel mass is small.
type KernelClassifier struct {
	Gamma      float64     `json:"gamma"`
	Smoothing  float64     `json:"smoothing"`
	MaxSupport int         `json:"max_support"`
	Seed       int64       `json:"seed"`
	Prior      float64     `json:"prior"`
	Support    [][]float64 `json:"support"`
	Labels     []int       `json:"labels"`
}

func (m *KernelClassifier) Kind() string { return KindKernel }

func (m *KernelClassifier) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if m.Smoothing <= 0 {
		return fmt.Errorf("kernel: smoothing must be positive")
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	if m.MaxSupport > 0 && len(idx) > m.MaxSupport {
		rng := rand.New(rand.NewSource(m.Seed))
		idx = rng.Perm(len(X))[:m.MaxSupport]
	}

	support := make([][]float64, len(idx))
	labels := make([]int, len(idx))
	pos := 0
	for k, i := range idx {
		support[k] = append([]float64(nil), X[i]...)
		labels[k] = y[i]
		pos += y[i]
	}
	if pos == 0 || pos == len(labels) {
		return fmt.Errorf("%w: support subsample has one class", ErrDegenerateTarget)
	}

	if m.Gamma <= 0 {
		m.Gamma = 1 / float64(d)
	}
	m.Prior = float64(pos) / float64(len(labels))
	m.Support = support
	m.Labels = labels
	return nil
}

func (m *KernelClassifier) PredictProba(x []float64) ([]float64, error) {
	width := 0
	if len(m.Support) > 0 {
		width = len(m.Support[0])
	}
	if err := checkWidth(x, width); err != nil {
		return nil, err
	}

	var mass, posMass float64
	for k, s := range m.Support {
		var dist float64
		for j := range s {
			diff := x[j] - s[j]
			dist += diff * diff
		}
		w := math.Exp(-m.Gamma * dist)
		mass += w
		if m.Labels[k] == 1 {
			posMass += w
		}
	}
	p := (posMass + m.Smoothing*m.Prior) / (mass + m.Smoothing)
	return binary(p), nil
}
