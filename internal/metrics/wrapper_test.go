package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"propcast/internal/ml"
	"propcast/internal/signals"
)

var (
	_ ml.MetricsInterface = (*MetricsWrapper)(nil)
	_ signals.Metrics     = (*MetricsWrapper)(nil)
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_Counters(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	tests := []struct {
		name    string
		inc     func()
		counter prometheus.Counter
	}{
		{"inferences", wrapper.InferencesInc, metrics.Inferences},
		{"inference failures", wrapper.InferenceFailuresInc, metrics.InferenceFailures},
		{"artifact reloads", wrapper.ArtifactReloadsInc, metrics.ArtifactReloads},
		{"training runs", wrapper.TrainingRunsInc, metrics.TrainingRuns},
		{"fit failures", wrapper.ModelFitFailuresInc, metrics.ModelFitFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := testutil.ToFloat64(tt.counter); v != 0 {
				t.Errorf("Expected initial counter value 0, got %f", v)
			}
			tt.inc()
			tt.inc()
			if v := testutil.ToFloat64(tt.counter); v != 2 {
				t.Errorf("Expected counter value 2 after two increments, got %f", v)
			}
		})
	}
}

func TestMetricsWrapper_GaugeAndHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	wrapper.ArtifactAgeSet(3600)
	if v := testutil.ToFloat64(metrics.ArtifactAge); v != 3600 {
		t.Errorf("Expected artifact age 3600, got %f", v)
	}

	wrapper.InferenceLatencyObserve(0.02)
	wrapper.ConfidenceObserve(0.66)
	wrapper.ConfidenceObserve(0.2)

	if n := testutil.CollectAndCount(metrics.Confidence); n != 1 {
		t.Errorf("Expected one confidence series, got %d", n)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "propcast_confidence" {
			if c := mf.Metric[0].Histogram.GetSampleCount(); c != 2 {
				t.Errorf("Expected 2 confidence samples, got %d", c)
			}
		}
	}
}

func TestMetricsWrapper_SignalsByKind(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.SignalUnavailableInc(signals.KindSentiment)
	wrapper.SignalUnavailableInc(signals.KindSentiment)
	wrapper.SignalUnavailableInc(signals.KindMomentum)
	wrapper.SignalCacheHitInc(signals.KindMomentum)

	if v := testutil.ToFloat64(metrics.SignalUnavailable.WithLabelValues(signals.KindSentiment)); v != 2 {
		t.Errorf("Expected 2 unavailable sentiment, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.SignalUnavailable.WithLabelValues(signals.KindMomentum)); v != 1 {
		t.Errorf("Expected 1 unavailable momentum, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.SignalCacheHits.WithLabelValues(signals.KindMomentum)); v != 1 {
		t.Errorf("Expected 1 momentum cache hit, got %f", v)
	}
}

func TestNewWithRegistry_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewWithRegistry(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic registering the same metrics twice")
		}
	}()
	NewWithRegistry(registry)
}
