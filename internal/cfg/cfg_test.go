package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"propcast/internal/common"
	"propcast/internal/ml"
)

var allEnvKeys = []string{
	common.EnvConfigFile, common.EnvDataPath, common.EnvListenAddr, common.EnvMetricsPort,
	common.EnvLogLevel, common.EnvStackingFolds, common.EnvTrainingSeed, common.EnvHoldoutFraction,
	common.EnvReferenceModel, common.EnvSignalBaseURL, common.EnvSignalStreamURL, common.EnvSignalTimeout,
	common.EnvSignalCacheTTL, common.EnvRedisAddr, common.EnvRedisPassword, common.EnvRedisDB,
	common.EnvSentimentHigh, common.EnvSentimentLow, common.EnvSentimentUplift, common.EnvSentimentDiscount,
	common.EnvMomentumWindow, common.EnvMomentumThreshold, common.EnvMomentumUplift,
	common.EnvFeatureDefault, common.EnvRejectUnknown,
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnv(t)

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settings.DataPath != common.DefaultDataPath {
		t.Errorf("expected DataPath %q, got %q", common.DefaultDataPath, settings.DataPath)
	}
	if settings.ListenAddr != common.DefaultListenAddr {
		t.Errorf("expected ListenAddr %q, got %q", common.DefaultListenAddr, settings.ListenAddr)
	}
	if settings.MetricsPort != common.DefaultMetricsPort {
		t.Errorf("expected MetricsPort %d, got %d", common.DefaultMetricsPort, settings.MetricsPort)
	}
	if settings.Training.Folds != common.DefaultStackingFolds {
		t.Errorf("expected %d folds, got %d", common.DefaultStackingFolds, settings.Training.Folds)
	}
	if settings.Training.Seed != common.DefaultTrainingSeed {
		t.Errorf("expected seed %d, got %d", common.DefaultTrainingSeed, settings.Training.Seed)
	}
	if len(settings.Training.Models) != len(ml.DefaultEstimators()) {
		t.Errorf("expected default estimators, got %v", settings.Training.Models)
	}
	if settings.Calibration != ml.DefaultCalibrationConfig() {
		t.Errorf("expected default calibration, got %+v", settings.Calibration)
	}
	if settings.Signals.Timeout != 2*time.Second {
		t.Errorf("expected signal timeout 2s, got %v", settings.Signals.Timeout)
	}
	if settings.Signals.CacheTTL != 10*time.Minute {
		t.Errorf("expected cache TTL 10m, got %v", settings.Signals.CacheTTL)
	}
	if settings.Signals.Breaker.ConsecutiveFailures != common.DefaultBreakerConsecutiveFailures {
		t.Errorf("expected breaker threshold %d, got %d", common.DefaultBreakerConsecutiveFailures, settings.Signals.Breaker.ConsecutiveFailures)
	}
	if settings.Policy.RejectUnknown {
		t.Error("expected unknown features to be ignored by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name: "training and calibration overrides",
			envVars: map[string]string{
				common.EnvStackingFolds:   "3",
				common.EnvTrainingSeed:    "7",
				common.EnvHoldoutFraction: "0.25",
				common.EnvSentimentUplift: "1.2",
				common.EnvMomentumWindow:  "3",
				common.EnvRejectUnknown:   "true",
				common.EnvFeatureDefault:  "-1",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.Training.Folds != 3 {
					t.Errorf("expected 3 folds, got %d", settings.Training.Folds)
				}
				if settings.Training.Seed != 7 {
					t.Errorf("expected seed 7, got %d", settings.Training.Seed)
				}
				if settings.Training.HoldoutFraction != 0.25 {
					t.Errorf("expected holdout 0.25, got %f", settings.Training.HoldoutFraction)
				}
				if settings.Calibration.SentimentUplift != 1.2 {
					t.Errorf("expected uplift 1.2, got %f", settings.Calibration.SentimentUplift)
				}
				if settings.Calibration.MomentumWindow != 3 {
					t.Errorf("expected momentum window 3, got %d", settings.Calibration.MomentumWindow)
				}
				if !settings.Policy.RejectUnknown || settings.Policy.DefaultValue != -1 {
					t.Errorf("unexpected policy %+v", settings.Policy)
				}
			},
		},
		{
			name: "signal and redis overrides",
			envVars: map[string]string{
				common.EnvSignalBaseURL:   "http://signals.local:9000",
				common.EnvSignalStreamURL: "ws://signals.local:9000/stream",
				common.EnvSignalTimeout:   "500ms",
				common.EnvRedisAddr:       "localhost:6379",
				common.EnvRedisDB:         "2",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.Signals.BaseURL != "http://signals.local:9000" {
					t.Errorf("unexpected base URL %s", settings.Signals.BaseURL)
				}
				if settings.Signals.Timeout != 500*time.Millisecond {
					t.Errorf("expected 500ms timeout, got %v", settings.Signals.Timeout)
				}
				if settings.Redis.Addr != "localhost:6379" || settings.Redis.DB != 2 {
					t.Errorf("unexpected redis settings %+v", settings.Redis)
				}
			},
		},
		{
			name:    "too few folds",
			envVars: map[string]string{common.EnvStackingFolds: "1"},
			wantErr: true,
		},
		{
			name:    "holdout too large",
			envVars: map[string]string{common.EnvHoldoutFraction: "0.9"},
			wantErr: true,
		},
		{
			name:    "bad log level",
			envVars: map[string]string{common.EnvLogLevel: "loud"},
			wantErr: true,
		},
		{
			name:    "uplift that lowers confidence",
			envVars: map[string]string{common.EnvSentimentUplift: "0.8"},
			wantErr: true,
		},
		{
			name:    "stream URL without ws scheme",
			envVars: map[string]string{common.EnvSignalStreamURL: "http://signals.local/stream"},
			wantErr: true,
		},
		{
			name:    "metrics port out of range",
			envVars: map[string]string{common.EnvMetricsPort: "80"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := Load()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	yamlContent := `
server:
  listenAddr: ":9100"
  metricsPort: 9090
  logLevel: debug
  dataPath: "/custom/data"

training:
  folds: 4
  threshold: 0.6
  referenceModel: forest
  models:
    - id: logistic
      kind: logistic
    - id: forest
      kind: forest
      params:
        trees: 50

calibration:
  highThreshold: 0.75
  lowThreshold: 0.25
  sentimentUplift: 1.1
  sentimentDiscount: 0.9
  momentumWindow: 5
  momentumThreshold: 0.8
  momentumUplift: 1.05

signals:
  timeout: 3s
  subjects: ["p1", "p2"]
  breaker:
    consecutiveFailures: 2
`
	clearTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(common.EnvConfigFile, path)
	t.Setenv(common.EnvStackingFolds, "6")

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settings.ListenAddr != ":9100" || settings.MetricsPort != 9090 {
		t.Errorf("unexpected server settings %s/%d", settings.ListenAddr, settings.MetricsPort)
	}
	if settings.Training.Folds != 6 {
		t.Errorf("expected env to override YAML folds, got %d", settings.Training.Folds)
	}
	if settings.Training.Threshold != 0.6 || settings.Training.ReferenceModel != "forest" {
		t.Errorf("unexpected training settings %+v", settings.Training)
	}
	if len(settings.Training.Models) != 2 || settings.Training.Models[1].Params["trees"] != 50 {
		t.Errorf("unexpected models %+v", settings.Training.Models)
	}
	if settings.Training.HoldoutFraction != common.DefaultHoldoutFraction {
		t.Errorf("expected default holdout to survive, got %f", settings.Training.HoldoutFraction)
	}
	if settings.Calibration.HighThreshold != 0.75 {
		t.Errorf("expected high threshold 0.75, got %f", settings.Calibration.HighThreshold)
	}
	if settings.Signals.Timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", settings.Signals.Timeout)
	}
	if len(settings.Signals.Subjects) != 2 {
		t.Errorf("expected 2 subjects, got %v", settings.Signals.Subjects)
	}
	if settings.Signals.Breaker.ConsecutiveFailures != 2 {
		t.Errorf("expected breaker threshold 2, got %d", settings.Signals.Breaker.ConsecutiveFailures)
	}
	if settings.Signals.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected default breaker timeout, got %v", settings.Signals.Breaker.Timeout)
	}
}

func TestLoad_YAMLErrors(t *testing.T) {
	clearTestEnv(t)

	t.Setenv(common.EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(common.EnvConfigFile, path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
