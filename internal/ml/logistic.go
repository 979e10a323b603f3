package ml

import (
	"fmt"
	"math"
)

// LogisticRegression is an L2-regularised linear classifier trained with
// full-batch gradient descent. Training is deterministic.
type LogisticRegression struct {
	L2           float64   `json:"l2"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
}

func (m *LogisticRegression) Kind() string { return KindLogistic }

func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if m.Epochs <= 0 || m.LearningRate <= 0 {
		return fmt.Errorf("logistic: epochs and learning rate must be positive")
	}

	n := float64(len(X))
	w := make([]float64, d)
	grad := make([]float64, d)
	var b float64

	for epoch := 0; epoch < m.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, row := range X {
			diff := sigmoid(dot(w, row)+b) - float64(y[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gb += diff
		}
		for j := range w {
			w[j] -= m.LearningRate * (grad[j]/n + m.L2*w[j])
		}
		b -= m.LearningRate * gb / n
	}

	if !allFinite(w, []float64{b}) {
		return fmt.Errorf("logistic: weights diverged")
	}
	m.Weights = w
	m.Bias = b
	return nil
}

func (m *LogisticRegression) PredictProba(x []float64) ([]float64, error) {
	if err := checkWidth(x, len(m.Weights)); err != nil {
		return nil, err
	}
	return binary(sigmoid(dot(m.Weights, x) + m.Bias)), nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
