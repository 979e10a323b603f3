package metrics

// MetricsWrapper adapts Metrics to the narrow interfaces the ml and signals
// packages declare, so neither has to import Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) InferencesInc() {
	w.m.Inferences.Inc()
}

func (w *MetricsWrapper) InferenceFailuresInc() {
	w.m.InferenceFailures.Inc()
}

func (w *MetricsWrapper) InferenceLatencyObserve(seconds float64) {
	w.m.InferenceLatency.Observe(seconds)
}

func (w *MetricsWrapper) ConfidenceObserve(v float64) {
	w.m.Confidence.Observe(v)
}

func (w *MetricsWrapper) ArtifactAgeSet(seconds float64) {
	w.m.ArtifactAge.Set(seconds)
}

func (w *MetricsWrapper) ArtifactReloadsInc() {
	w.m.ArtifactReloads.Inc()
}

func (w *MetricsWrapper) TrainingRunsInc() {
	w.m.TrainingRuns.Inc()
}

func (w *MetricsWrapper) ModelFitFailuresInc() {
	w.m.ModelFitFailures.Inc()
}

func (w *MetricsWrapper) SignalUnavailableInc(kind string) {
	w.m.SignalUnavailable.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) SignalCacheHitInc(kind string) {
	w.m.SignalCacheHits.WithLabelValues(kind).Inc()
}
