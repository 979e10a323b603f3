package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	inferences       int
	failures         int
	latencySum       float64
	confidences      []float64
	artifactAge      float64
	reloads          int
	trainingRuns     int
	modelFitFailures int
	unavailable      map[string]int
}

func (m *MockMetrics) InferencesInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences++
}

func (m *MockMetrics) InferenceFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) InferenceLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) ConfidenceObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidences = append(m.confidences, v)
}

func (m *MockMetrics) ArtifactAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifactAge = v
}

func (m *MockMetrics) ArtifactReloadsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

func (m *MockMetrics) TrainingRunsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingRuns++
}

func (m *MockMetrics) ModelFitFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelFitFailures++
}

func (m *MockMetrics) SignalUnavailableInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable == nil {
		m.unavailable = make(map[string]int)
	}
	m.unavailable[kind]++
}

// Unavailable returns how many signals of kind were dropped.
func (m *MockMetrics) Unavailable(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavailable[kind]
}

// Counts returns a snapshot of the counters.
func (m *MockMetrics) Counts() (inferences, failures, reloads, trainingRuns, fitFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferences, m.failures, m.reloads, m.trainingRuns, m.modelFitFailures
}
