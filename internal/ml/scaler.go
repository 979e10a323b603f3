package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres and scales each feature with statistics captured
// once at training time. Transform never refits.
type StandardScaler struct {
	Means   []float64 `json:"means"`
	Stddevs []float64 `json:"stddevs"`
}

// FitScaler computes per-feature mean and population standard deviation.
// Constant features get a unit scale.
func FitScaler(X [][]float64) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("%w: cannot fit scaler on empty data", ErrInsufficientSamples)
	}
	d := len(X[0])
	means := make([]float64, d)
	stddevs := make([]float64, d)

	for _, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("%w: ragged training matrix", ErrSchemaMismatch)
		}
	}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		means[j], stddevs[j] = stat.PopMeanStdDev(col, nil)
		if stddevs[j] < 1e-10 {
			stddevs[j] = 1.0
		}
	}
	return &StandardScaler{Means: means, Stddevs: stddevs}, nil
}

// Width is the number of features the scaler was fitted on.
func (s *StandardScaler) Width() int {
	return len(s.Means)
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Means) {
		return nil, fmt.Errorf("%w: input width %d, scaler width %d", ErrSchemaMismatch, len(x), len(s.Means))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Means[j]) / s.Stddevs[j]
	}
	return out, nil
}

// TransformAll scales every row.
func (s *StandardScaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		r, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}
