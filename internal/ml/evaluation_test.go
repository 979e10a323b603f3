package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_KnownValues(t *testing.T) {
	y := []int{1, 1, 0, 0, 1, 0}
	probs := []float64{0.9, 0.4, 0.35, 0.1, 0.8, 0.7}

	m := Evaluate(y, probs, 0.5)

	// predicted: 1 0 0 0 1 1 -> tp=2 fn=1 tn=2 fp=1
	assert.Equal(t, [2][2]int{{2, 1}, {1, 2}}, m.ConfusionMatrix)
	assert.InDelta(t, 4.0/6, m.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3, m.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, m.F1Score, 1e-12)
	// positive scores 0.9,0.4,0.8 vs negatives 0.35,0.1,0.7: 8 of 9 pairs ordered
	assert.InDelta(t, 8.0/9, m.AUCScore, 1e-12)
	assert.Equal(t, 6, m.Samples)
}

func TestEvaluate_TiesAndDegenerate(t *testing.T) {
	m := Evaluate([]int{1, 0}, []float64{0.5, 0.5}, 0.5)
	assert.InDelta(t, 0.5, m.AUCScore, 1e-12)

	// one tied positive/negative pair counts half: 3.5 of 4 pairs
	m = Evaluate([]int{1, 0, 1, 0}, []float64{0.5, 0.5, 0.9, 0.1}, 0.5)
	assert.InDelta(t, 0.875, m.AUCScore, 1e-12)

	m = Evaluate([]int{1, 1}, []float64{0.2, 0.9}, 0.5)
	assert.Equal(t, 0.0, m.AUCScore)
	assert.Equal(t, 0.5, m.Recall)

	m = Evaluate(nil, nil, 0.5)
	assert.Equal(t, ModelMetrics{}, m)

	m = Evaluate([]int{0, 0}, []float64{0.1, 0.2}, 0.5)
	assert.Equal(t, 0.0, m.Precision)
	assert.Equal(t, 0.0, m.F1Score)
}

func TestPermutationImportance_RanksInformativeFeature(t *testing.T) {
	model := &LogisticRegression{Weights: []float64{5, 0}, Bias: 0}
	X := [][]float64{{-1, 3}, {1, -2}, {-2, 0}, {2, 1}, {-1.5, 2}, {1.5, -1}}
	y := []int{0, 1, 0, 1, 0, 1}

	stats, err := PermutationImportance(model, []string{"signal", "noise"}, X, y, 0.5)
	assert.NoError(t, err)
	assert.Equal(t, []string{"signal", "noise"}, TopFeatures(stats, 2))
	assert.Greater(t, stats[0].ImportanceScore, 0.0)
	assert.Equal(t, 0.0, stats[1].ImportanceScore)
	assert.Equal(t, -2.0, minValue(stats, "signal"))
}

func minValue(stats []FeatureStats, name string) float64 {
	for _, s := range stats {
		if s.Name == name {
			return s.MinValue
		}
	}
	return 0
}
