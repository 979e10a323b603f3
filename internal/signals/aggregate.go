package signals

import (
	"math"
	"time"
)

// DefaultDecay is the e-folding age of a sentiment observation.
const DefaultDecay = 24 * time.Hour

// Observation is one scored mention of a subject. Polarity is in [-1,1].
type Observation struct {
	Polarity float64   `json:"polarity"`
	At       time.Time `json:"at"`
}

// Aggregate folds raw observations into a SentimentSignal. Newer observations
// weigh more: an observation decay old counts 1/e as much as a fresh one.
// With no usable observations the result is neutral with zero confidence.
func Aggregate(subject string, obs []Observation, decay time.Duration, now time.Time) SentimentSignal {
	out := SentimentSignal{Subject: subject, Score: 0.5, AsOf: now}
	if decay <= 0 {
		decay = DefaultDecay
	}

	var wsum, mean float64
	weights := make([]float64, 0, len(obs))
	polarities := make([]float64, 0, len(obs))
	for _, o := range obs {
		if math.IsNaN(o.Polarity) || math.IsInf(o.Polarity, 0) {
			continue
		}
		p := math.Max(-1, math.Min(1, o.Polarity))
		age := now.Sub(o.At)
		if age < 0 {
			age = 0
		}
		w := math.Exp(-age.Hours() / decay.Hours())
		weights = append(weights, w)
		polarities = append(polarities, p)
		wsum += w
		mean += w * p
	}
	if len(weights) == 0 || wsum == 0 {
		return out
	}
	mean /= wsum

	var variance float64
	for i, w := range weights {
		d := polarities[i] - mean
		variance += w * d * d
	}
	std := math.Sqrt(variance / wsum)

	out.Score = (mean + 1) / 2
	out.Confidence = 1 - math.Min(std, 1)
	out.SampleVolume = len(weights)
	return out
}
