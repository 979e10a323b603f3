package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// NeuralNetwork is a one-hidden-layer ReLU network with a two-way softmax
// output, trained with seeded per-sample SGD.
type NeuralNetwork struct {
	Hidden                int         `json:"hidden"`
	LearningRate          float64     `json:"learning_rate"`
	Epochs                int         `json:"epochs"`
	L2                    float64     `json:"l2"`
	Seed                  int64       `json:"seed"`
	InputToHiddenWeights  [][]float64 `json:"input_to_hidden_weights"`
	HiddenBiases          []float64   `json:"hidden_biases"`
	HiddenToOutputWeights [][]float64 `json:"hidden_to_output_weights"`
	OutputBiases          []float64   `json:"output_biases"`
}

const outputClasses = 2

func (nn *NeuralNetwork) Kind() string { return KindMLP }

func (nn *NeuralNetwork) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if nn.Hidden <= 0 || nn.Epochs <= 0 || nn.LearningRate <= 0 {
		return fmt.Errorf("mlp: hidden, epochs and learning rate must be positive")
	}

	rng := rand.New(rand.NewSource(nn.Seed))
	scale := math.Sqrt(2 / float64(d))

	// He initialisation for the ReLU layer.
	w1 := make([][]float64, d)
	for i := range w1 {
		w1[i] = make([]float64, nn.Hidden)
		for j := range w1[i] {
			w1[i][j] = rng.NormFloat64() * scale
		}
	}
	w2 := make([][]float64, nn.Hidden)
	for j := range w2 {
		w2[j] = make([]float64, outputClasses)
		for k := range w2[j] {
			w2[j][k] = rng.NormFloat64() * math.Sqrt(1/float64(nn.Hidden))
		}
	}
	b1 := make([]float64, nn.Hidden)
	b2 := make([]float64, outputClasses)

	nn.InputToHiddenWeights, nn.HiddenBiases = w1, b1
	nn.HiddenToOutputWeights, nn.OutputBiases = w2, b2

	hidden := make([]float64, nn.Hidden)
	dHidden := make([]float64, nn.Hidden)
	for epoch := 0; epoch < nn.Epochs; epoch++ {
		for _, i := range rng.Perm(len(X)) {
			probs := nn.forward(X[i], hidden)
			nn.backpropagate(X[i], y[i], hidden, probs, dHidden)
		}
	}

	for _, row := range w1 {
		if !allFinite(row) {
			return fmt.Errorf("mlp: weights diverged")
		}
	}
	for _, row := range w2 {
		if !allFinite(row) {
			return fmt.Errorf("mlp: weights diverged")
		}
	}
	return nil
}

func (nn *NeuralNetwork) PredictProba(x []float64) ([]float64, error) {
	if err := checkWidth(x, len(nn.InputToHiddenWeights)); err != nil {
		return nil, err
	}
	return nn.forward(x, make([]float64, nn.Hidden)), nil
}

// forward fills hidden with the ReLU activations and returns the softmax
// output.
func (nn *NeuralNetwork) forward(x, hidden []float64) []float64 {
	for j := range hidden {
		sum := nn.HiddenBiases[j]
		for i, v := range x {
			sum += v * nn.InputToHiddenWeights[i][j]
		}
		hidden[j] = math.Max(0, sum)
	}
	scores := make([]float64, outputClasses)
	for k := range scores {
		sum := nn.OutputBiases[k]
		for j, h := range hidden {
			sum += h * nn.HiddenToOutputWeights[j][k]
		}
		scores[k] = sum
	}
	return softmax(scores)
}

func (nn *NeuralNetwork) backpropagate(x []float64, target int, hidden, probs, dHidden []float64) {
	lr := nn.LearningRate

	// Cross-entropy gradient at the softmax input.
	dOut := make([]float64, outputClasses)
	for k := range dOut {
		dOut[k] = probs[k]
		if k == target {
			dOut[k] -= 1
		}
	}

	for j := range dHidden {
		if hidden[j] <= 0 {
			dHidden[j] = 0
			continue
		}
		var g float64
		for k := range dOut {
			g += dOut[k] * nn.HiddenToOutputWeights[j][k]
		}
		dHidden[j] = g
	}

	for j, h := range hidden {
		for k := range dOut {
			w := nn.HiddenToOutputWeights[j][k]
			nn.HiddenToOutputWeights[j][k] = w - lr*(dOut[k]*h+nn.L2*w)
		}
	}
	for k := range dOut {
		nn.OutputBiases[k] -= lr * dOut[k]
	}
	for i, v := range x {
		for j := range dHidden {
			w := nn.InputToHiddenWeights[i][j]
			nn.InputToHiddenWeights[i][j] = w - lr*(dHidden[j]*v+nn.L2*w)
		}
	}
	for j := range dHidden {
		nn.HiddenBiases[j] -= lr * dHidden[j]
	}
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
