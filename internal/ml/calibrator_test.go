package ml

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propcast/internal/signals"
)

func newTestCalibrator(t *testing.T) *Calibrator {
	t.Helper()
	c, err := NewCalibrator(DefaultCalibrationConfig())
	require.NoError(t, err)
	return c
}

func TestCalibrate_Scenarios(t *testing.T) {
	c := newTestCalibrator(t)
	const subject = "player-23"

	tests := []struct {
		name      string
		p         float64
		sentiment *signals.SentimentSignal
		momentum  *signals.MomentumSignal
		want      float64
	}{
		{
			name:      "positive sentiment uplift",
			p:         0.60,
			sentiment: &signals.SentimentSignal{Subject: subject, Score: 0.85},
			want:      0.66,
		},
		{
			name:      "negative sentiment with momentum",
			p:         0.70,
			sentiment: &signals.SentimentSignal{Subject: subject, Score: 0.2},
			momentum:  &signals.MomentumSignal{Subject: subject, Embedding: []float64{0.9, 0.9, 0.9, 0.9, 0.9}},
			want:      0.6615,
		},
		{
			name: "no signals leaves probability unchanged",
			p:    0.42,
			want: 0.42,
		},
		{
			name:      "neutral sentiment is a no-op",
			p:         0.5,
			sentiment: &signals.SentimentSignal{Subject: subject, Score: 0.5},
			want:      0.5,
		},
		{
			name:      "threshold is exclusive",
			p:         0.5,
			sentiment: &signals.SentimentSignal{Subject: subject, Score: 0.7},
			want:      0.5,
		},
		{
			name:     "momentum uses the last five components",
			p:        0.5,
			momentum: &signals.MomentumSignal{Subject: subject, Embedding: []float64{0, 0, 0.9, 0.9, 0.9, 0.9, 0.9}},
			want:     0.525,
		},
		{
			name:     "short embedding averages all components",
			p:        0.5,
			momentum: &signals.MomentumSignal{Subject: subject, Embedding: []float64{0.85, 0.95}},
			want:     0.525,
		},
		{
			name:     "empty embedding is absent",
			p:        0.5,
			momentum: &signals.MomentumSignal{Subject: subject},
			want:     0.5,
		},
		{
			name:      "uplift is clipped",
			p:         0.98,
			sentiment: &signals.SentimentSignal{Subject: subject, Score: 0.99},
			momentum:  &signals.MomentumSignal{Subject: subject, Embedding: []float64{1, 1, 1, 1, 1}},
			want:      1.0,
		},
		{
			name:      "signals for another subject are ignored",
			p:         0.6,
			sentiment: &signals.SentimentSignal{Subject: "someone-else", Score: 0.95},
			momentum:  &signals.MomentumSignal{Subject: "someone-else", Embedding: []float64{1, 1, 1, 1, 1}},
			want:      0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Calibrate(subject, tt.p, tt.sentiment, tt.momentum)
			assert.InDelta(t, tt.want, got.Confidence, 1e-9)
		})
	}
}

func TestCalibrate_ReportsFactors(t *testing.T) {
	c := newTestCalibrator(t)
	got := c.Calibrate("s", 0.7,
		&signals.SentimentSignal{Subject: "s", Score: 0.2},
		&signals.MomentumSignal{Subject: "s", Embedding: []float64{0.9, 0.9, 0.9, 0.9, 0.9}})

	assert.Equal(t, 0.9, got.SentimentFactor)
	assert.Equal(t, 1.05, got.MomentumFactor)
	assert.True(t, got.SentimentApplied)
	assert.True(t, got.MomentumApplied)
	assert.InDelta(t, 0.9, got.Momentum, 1e-12)
}

func TestCalibrate_AlwaysInUnitInterval(t *testing.T) {
	c := newTestCalibrator(t)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 5000; i++ {
		p := rng.Float64()*1.4 - 0.2
		var s *signals.SentimentSignal
		if rng.Intn(2) == 0 {
			s = &signals.SentimentSignal{Subject: "s", Score: rng.Float64()}
		}
		var m *signals.MomentumSignal
		if rng.Intn(2) == 0 {
			m = &signals.MomentumSignal{Subject: "s", Embedding: []float64{rng.Float64() * 2, rng.Float64() * 2}}
		}
		got := c.Calibrate("s", p, s, m).Confidence
		if got < 0 || got > 1 {
			t.Fatalf("confidence %v outside [0,1] for p=%v", got, p)
		}
	}

	assert.Equal(t, 0.0, c.Calibrate("s", math.NaN(), nil, nil).Confidence)
}

func TestCalibrationConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CalibrationConfig)
	}{
		{"low above high", func(c *CalibrationConfig) { c.LowThreshold = 0.8 }},
		{"uplift not above one", func(c *CalibrationConfig) { c.SentimentUplift = 1 }},
		{"discount not below one", func(c *CalibrationConfig) { c.SentimentDiscount = 1.2 }},
		{"zero window", func(c *CalibrationConfig) { c.MomentumWindow = 0 }},
		{"momentum uplift below one", func(c *CalibrationConfig) { c.MomentumUplift = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCalibrationConfig()
			tt.mutate(&cfg)
			_, err := NewCalibrator(cfg)
			assert.Error(t, err)
		})
	}
}
