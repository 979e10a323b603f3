// Package signals provides the external sentiment and momentum inputs used to
// adjust blended confidence. Signals are always keyed by subject; nothing in
// this package relies on positional alignment with a batch.
package signals

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSignalUnavailable marks a signal that could not be obtained. Callers
// treat it as absent, never as a failure of inference.
var ErrSignalUnavailable = errors.New("signal unavailable")

// SentimentSignal is the aggregated crowd sentiment for one subject.
type SentimentSignal struct {
	Subject      string    `json:"subject"`
	Score        float64   `json:"score"`
	Confidence   float64   `json:"confidence"`
	SampleVolume int       `json:"sample_volume"`
	AsOf         time.Time `json:"as_of"`
}

// Validate checks the documented ranges.
func (s SentimentSignal) Validate() error {
	if s.Subject == "" {
		return fmt.Errorf("sentiment: empty subject")
	}
	if math.IsNaN(s.Score) || s.Score < 0 || s.Score > 1 {
		return fmt.Errorf("sentiment %s: score %v outside [0,1]", s.Subject, s.Score)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("sentiment %s: confidence %v outside [0,1]", s.Subject, s.Confidence)
	}
	if s.SampleVolume < 0 {
		return fmt.Errorf("sentiment %s: negative sample volume", s.Subject)
	}
	return nil
}

// MomentumSignal carries a subject's recent-behaviour embedding.
type MomentumSignal struct {
	Subject   string    `json:"subject"`
	Embedding []float64 `json:"embedding"`
	AsOf      time.Time `json:"as_of"`
}

// Validate checks the subject and that every component is finite.
func (m MomentumSignal) Validate() error {
	if m.Subject == "" {
		return fmt.Errorf("momentum: empty subject")
	}
	for i, v := range m.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("momentum %s: component %d is not finite", m.Subject, i)
		}
	}
	return nil
}

// Scalar reduces the embedding to the mean of its last window components.
// Shorter embeddings use every component. An empty embedding reports false.
func (m MomentumSignal) Scalar(window int) (float64, bool) {
	n := len(m.Embedding)
	if n == 0 {
		return 0, false
	}
	if window <= 0 || window > n {
		window = n
	}
	var sum float64
	for _, v := range m.Embedding[n-window:] {
		sum += v
	}
	return sum / float64(window), true
}

// Set is the pair of signals resolved for one subject. Either may be nil.
type Set struct {
	Sentiment *SentimentSignal
	Momentum  *MomentumSignal
}
