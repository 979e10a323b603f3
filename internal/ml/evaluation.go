package ml

import (
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ModelMetrics summarises binary classification quality on held-out data.
type ModelMetrics struct {
	Accuracy        float64   `json:"accuracy"`
	Precision       float64   `json:"precision"`
	Recall          float64   `json:"recall"`
	F1Score         float64   `json:"f1_score"`
	AUCScore        float64   `json:"auc_score"`
	ConfusionMatrix [2][2]int `json:"confusion_matrix"`
	Samples         int       `json:"samples"`
}

// Evaluate scores positive-class probabilities against labels. The
// confusion matrix is indexed [actual][predicted]. Undefined ratios are 0.
func Evaluate(y []int, probs []float64, threshold float64) ModelMetrics {
	m := ModelMetrics{Samples: len(y)}
	if len(y) == 0 || len(y) != len(probs) {
		return m
	}

	for i, label := range y {
		pred := 0
		if probs[i] >= threshold {
			pred = 1
		}
		m.ConfusionMatrix[label][pred]++
	}
	tn, fp := m.ConfusionMatrix[0][0], m.ConfusionMatrix[0][1]
	fn, tp := m.ConfusionMatrix[1][0], m.ConfusionMatrix[1][1]

	m.Accuracy = ratio(tp+tn, len(y))
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.AUCScore = rocAUC(y, probs)
	return m
}

// rocAUC integrates the ROC curve with the trapezoidal rule, so tied
// scores contribute a diagonal segment. It is 0 when only one class is
// present.
func rocAUC(y []int, probs []float64) float64 {
	scores := append([]float64(nil), probs...)
	classes := make([]bool, len(y))
	var pos int
	for i, label := range y {
		classes[i] = label == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return 0
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
