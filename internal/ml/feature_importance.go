package ml

import (
	"fmt"
	"math"
	"sort"
)

// FeatureStats contains the permutation importance of a single feature
type FeatureStats struct {
	Name             string  `json:"name"`
	ImportanceScore  float64 `json:"importance_score"`
	PermutationScore float64 `json:"permutation_score"`
	AverageValue     float64 `json:"average_value"`
	MinValue         float64 `json:"min_value"`
	MaxValue         float64 `json:"max_value"`
}

// PermutationImportance measures the accuracy drop of model when each
// feature column is rotated by one row. The rotation is deterministic, so
// repeated calls on the same data agree. Results are sorted by importance.
func PermutationImportance(model Classifier, names []string, X [][]float64, y []int, threshold float64) ([]FeatureStats, error) {
	if len(X) == 0 {
		return nil, nil
	}
	if len(X[0]) != len(names) {
		return nil, fmt.Errorf("%w: %d names for width %d", ErrSchemaMismatch, len(names), len(X[0]))
	}

	baseline, err := accuracy(model, X, y, threshold)
	if err != nil {
		return nil, err
	}

	permuted := make([][]float64, len(X))
	for i := range X {
		permuted[i] = append([]float64(nil), X[i]...)
	}

	stats := make([]FeatureStats, len(names))
	for j, name := range names {
		s := FeatureStats{Name: name, MinValue: math.Inf(1), MaxValue: math.Inf(-1)}
		for i := range X {
			v := X[i][j]
			s.AverageValue += v
			s.MinValue = math.Min(s.MinValue, v)
			s.MaxValue = math.Max(s.MaxValue, v)
			// Simple permutation: take the value from the next sample
			permuted[i][j] = X[(i+1)%len(X)][j]
		}
		s.AverageValue /= float64(len(X))

		score, err := accuracy(model, permuted, y, threshold)
		if err != nil {
			return nil, err
		}
		for i := range X {
			permuted[i][j] = X[i][j]
		}

		// Importance is the drop in performance
		s.PermutationScore = baseline - score
		s.ImportanceScore = math.Max(0, s.PermutationScore)
		stats[j] = s
	}

	sort.SliceStable(stats, func(a, b int) bool { return stats[a].ImportanceScore > stats[b].ImportanceScore })
	return stats, nil
}

// TopFeatures returns the names of the n most important features.
func TopFeatures(stats []FeatureStats, n int) []string {
	if n > len(stats) {
		n = len(stats)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = stats[i].Name
	}
	return out
}

func accuracy(model Classifier, X [][]float64, y []int, threshold float64) (float64, error) {
	correct := 0
	for i, row := range X {
		p, err := model.PredictProba(row)
		if err != nil {
			return 0, err
		}
		pred := 0
		if p[1] >= threshold {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X)), nil
}
