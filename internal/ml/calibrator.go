package ml

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"propcast/internal/common"
	"propcast/internal/signals"
)

// CalibrationConfig holds the thresholds and multipliers applied after
// stacking.
type CalibrationConfig struct {
	HighThreshold     float64 `json:"high_threshold" yaml:"highThreshold"`
	LowThreshold      float64 `json:"low_threshold" yaml:"lowThreshold"`
	SentimentUplift   float64 `json:"sentiment_uplift" yaml:"sentimentUplift"`
	SentimentDiscount float64 `json:"sentiment_discount" yaml:"sentimentDiscount"`
	MomentumWindow    int     `json:"momentum_window" yaml:"momentumWindow"`
	MomentumThreshold float64 `json:"momentum_threshold" yaml:"momentumThreshold"`
	MomentumUplift    float64 `json:"momentum_uplift" yaml:"momentumUplift"`
}

// DefaultCalibrationConfig returns the production calibration constants.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		HighThreshold:     common.DefaultSentimentHigh,
		LowThreshold:      common.DefaultSentimentLow,
		SentimentUplift:   common.DefaultSentimentUplift,
		SentimentDiscount: common.DefaultSentimentDiscount,
		MomentumWindow:    common.DefaultMomentumWindow,
		MomentumThreshold: common.DefaultMomentumThreshold,
		MomentumUplift:    common.DefaultMomentumUplift,
	}
}

// Validate rejects configurations whose factors point the wrong way.
func (c CalibrationConfig) Validate() error {
	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("sentiment thresholds must satisfy 0 <= low < high <= 1, got %v/%v", c.LowThreshold, c.HighThreshold)
	}
	if c.SentimentUplift <= 1 {
		return fmt.Errorf("sentiment uplift must be > 1, got %v", c.SentimentUplift)
	}
	if c.SentimentDiscount <= 0 || c.SentimentDiscount >= 1 {
		return fmt.Errorf("sentiment discount must be in (0,1), got %v", c.SentimentDiscount)
	}
	if c.MomentumWindow < 1 {
		return fmt.Errorf("momentum window must be positive, got %d", c.MomentumWindow)
	}
	if c.MomentumUplift <= 1 {
		return fmt.Errorf("momentum uplift must be > 1, got %v", c.MomentumUplift)
	}
	return nil
}

// Calibration is the outcome of adjusting one blended probability.
type Calibration struct {
	Confidence       float64 `json:"confidence"`
	SentimentFactor  float64 `json:"sentiment_factor"`
	MomentumFactor   float64 `json:"momentum_factor"`
	Momentum         float64 `json:"momentum,omitempty"`
	SentimentApplied bool    `json:"sentiment_applied"`
	MomentumApplied  bool    `json:"momentum_applied"`
}

// Calibrator applies bounded multiplicative adjustments from external
// signals. It is stateless apart from its configuration.
type Calibrator struct {
	cfg CalibrationConfig
}

// NewCalibrator validates cfg.
func NewCalibrator(cfg CalibrationConfig) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{cfg: cfg}, nil
}

// Config returns the active configuration.
func (c *Calibrator) Config() CalibrationConfig {
	return c.cfg
}

// Calibrate adjusts p for subject. A nil signal, or one keyed to another
// subject, contributes a factor of 1.
func (c *Calibrator) Calibrate(subject string, p float64, sentiment *signals.SentimentSignal, momentum *signals.MomentumSignal) Calibration {
	out := Calibration{SentimentFactor: 1, MomentumFactor: 1}

	if sentiment != nil && sentiment.Subject != subject {
		log.Warn().Str("subject", subject).Str("signal_subject", sentiment.Subject).Msg("Ignoring sentiment for another subject")
		sentiment = nil
	}
	if momentum != nil && momentum.Subject != subject {
		log.Warn().Str("subject", subject).Str("signal_subject", momentum.Subject).Msg("Ignoring momentum for another subject")
		momentum = nil
	}

	if sentiment != nil {
		switch {
		case sentiment.Score > c.cfg.HighThreshold:
			out.SentimentFactor = c.cfg.SentimentUplift
		case sentiment.Score < c.cfg.LowThreshold:
			out.SentimentFactor = c.cfg.SentimentDiscount
		}
		out.SentimentApplied = out.SentimentFactor != 1
	}

	if momentum != nil {
		if m, ok := momentum.Scalar(c.cfg.MomentumWindow); ok {
			out.Momentum = m
			if m > c.cfg.MomentumThreshold {
				out.MomentumFactor = c.cfg.MomentumUplift
				out.MomentumApplied = true
			}
		}
	}

	out.Confidence = Clip01(p * out.SentimentFactor * out.MomentumFactor)
	return out
}

// Clip01 bounds v to [0,1]; NaN maps to 0.
func Clip01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
