package ml

import (
	"context"
	"math/rand"
	"testing"
)

// syntheticDataset builds a noisy, mostly linearly separable problem with
// features on different scales.
func syntheticDataset(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := Dataset{FeatureOrder: []string{"player_points", "days_rest", "minutes"}}
	for i := 0; i < n; i++ {
		a := rng.NormFloat64()
		b := rng.NormFloat64()
		c := 30 + 5*rng.NormFloat64()
		label := 0
		if a+0.5*b+0.3*rng.NormFloat64() > 0 {
			label = 1
		}
		ds.X = append(ds.X, []float64{20 + 6*a, b, c})
		ds.Y = append(ds.Y, label)
		ds.Subjects = append(ds.Subjects, "subject")
	}
	return ds
}

func testTrainingConfig() TrainingConfig {
	cfg := DefaultTrainingConfig()
	cfg.Models = []EstimatorSpec{
		{ID: "logistic", Kind: KindLogistic},
		{ID: "forest", Kind: KindForest, Params: map[string]float64{"trees": 15, "max_depth": 4}},
		{ID: "kernel", Kind: KindKernel},
		{ID: "mlp", Kind: KindMLP, Params: map[string]float64{"hidden": 8, "epochs": 60}},
	}
	return cfg
}

func trainTestArtifact(t *testing.T) *Artifact {
	t.Helper()
	trainer, err := NewTrainer(testTrainingConfig(), nil)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	a, err := trainer.Train(context.Background(), syntheticDataset(150, 7))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	return a
}

// linearStub is a classifier whose positive-class output is w.x + bias.
type linearStub struct {
	w    []float64
	bias float64
}

func (s *linearStub) Kind() string {
	return "stub"
}

func (s *linearStub) Fit(X [][]float64, y []int) error {
	return nil
}

func (s *linearStub) PredictProba(x []float64) ([]float64, error) {
	p := s.bias + dot(s.w, x)
	return []float64{1 - p, p}, nil
}

// productStub has interactions between every pair of inputs.
type productStub struct{}

func (productStub) Kind() string {
	return "product"
}

func (productStub) Fit(X [][]float64, y []int) error {
	return nil
}

func (productStub) PredictProba(x []float64) ([]float64, error) {
	p := 1.0
	for _, v := range x {
		p *= 1 + v
	}
	return []float64{1 - p, p}, nil
}
