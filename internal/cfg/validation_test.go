package cfg

import (
	"strings"
	"testing"
	"time"

	"propcast/internal/ml"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		DataPath:    "data",
		ListenAddr:  ":8090",
		MetricsPort: 9090,
		LogLevel:    "info",
		Training:    ml.DefaultTrainingConfig(),
		Calibration: ml.DefaultCalibrationConfig(),
		Signals: SignalSettings{
			BaseURL:      "http://signals.local",
			StreamURL:    "wss://signals.local/stream",
			Timeout:      2 * time.Second,
			CacheTTL:     10 * time.Minute,
			PingInterval: 15 * time.Second,
		},
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	if err := validateSettings(createValidSettings()); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{
			name:    "metrics port too low",
			mutate:  func(s *Settings) { s.MetricsPort = 1023 },
			wantErr: "metrics port",
		},
		{
			name:    "metrics port too high",
			mutate:  func(s *Settings) { s.MetricsPort = 70000 },
			wantErr: "metrics port",
		},
		{
			name:    "listen address collides with metrics",
			mutate:  func(s *Settings) { s.ListenAddr = ":9090" },
			wantErr: "collides",
		},
		{
			name:    "too many folds",
			mutate:  func(s *Settings) { s.Training.Folds = 21 },
			wantErr: "stacking folds",
		},
		{
			name:    "no base models",
			mutate:  func(s *Settings) { s.Training.Models = nil },
			wantErr: "training",
		},
		{
			name: "duplicate model ids",
			mutate: func(s *Settings) {
				s.Training.Models = []ml.EstimatorSpec{{ID: "a", Kind: ml.KindLogistic}, {ID: "a", Kind: ml.KindForest}}
			},
			wantErr: "duplicate",
		},
		{
			name:    "unknown meta kind",
			mutate:  func(s *Settings) { s.Training.Meta = ml.EstimatorSpec{ID: "meta", Kind: "boosting"} },
			wantErr: "meta-learner",
		},
		{
			name:    "inverted sentiment thresholds",
			mutate:  func(s *Settings) { s.Calibration.LowThreshold, s.Calibration.HighThreshold = 0.8, 0.2 },
			wantErr: "calibration",
		},
		{
			name:    "discount that raises confidence",
			mutate:  func(s *Settings) { s.Calibration.SentimentDiscount = 1.1 },
			wantErr: "calibration",
		},
		{
			name:    "exact explanation too wide",
			mutate:  func(s *Settings) { s.Training.Explain.MaxExactFeatures = 30 },
			wantErr: "explain",
		},
		{
			name:    "no permutation samples",
			mutate:  func(s *Settings) { s.Training.Explain.Samples = 0 },
			wantErr: "explain",
		},
		{
			name:    "stream URL over http",
			mutate:  func(s *Settings) { s.Signals.StreamURL = "http://signals.local/stream" },
			wantErr: "ws://",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_BoundaryValues(t *testing.T) {
	settings := createValidSettings()
	settings.MetricsPort = 1024
	settings.Training.Folds = 2
	settings.Training.HoldoutFraction = 0.5
	settings.Training.Explain.MaxExactFeatures = 20
	settings.Signals.StreamURL = ""

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected boundary values to pass, got error: %v", err)
	}
}
