package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"propcast/internal/features"
	"propcast/internal/signals"
)

// SignalResolver looks up the signals for a subject. Missing signals come
// back as nil fields, never as an error.
type SignalResolver interface {
	Resolve(ctx context.Context, subject string) signals.Set
}

// ModelServer provides the HTTP API for inference and artifact management
type ModelServer struct {
	engine    Predictor
	registry  *Registry
	loader    ArtifactLoader
	resolver  SignalResolver
	validate  *validator.Validate
	server    *http.Server
	startTime time.Time
	timeout   time.Duration
}

// BatchRequest scores several subjects at once.
type BatchRequest struct {
	Requests      []InferenceRequest `json:"requests" validate:"required,min=1,dive"`
	MinConfidence float64            `json:"min_confidence" validate:"gte=0,lte=1"`
}

// BatchResponse holds the predictions that met MinConfidence.
type BatchResponse struct {
	Predictions  []CalibratedPrediction `json:"predictions"`
	Requested    int                    `json:"requested"`
	ModelVersion string                 `json:"model_version"`
}

// ExplainRequest carries a raw feature mapping.
type ExplainRequest struct {
	Features map[string]float64 `json:"features" validate:"required"`
}

// HealthStatus reports whether the server can answer inference requests.
type HealthStatus struct {
	Healthy       bool      `json:"healthy"`
	ModelLoaded   bool      `json:"model_loaded"`
	ModelVersion  string    `json:"model_version,omitempty"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	LastCheck     time.Time `json:"last_check"`
}

// NewModelServer creates a new HTTP server. resolver and loader may be nil.
func NewModelServer(engine Predictor, registry *Registry, loader ArtifactLoader, resolver SignalResolver, addr string) *ModelServer {
	ms := &ModelServer{
		engine:    engine,
		registry:  registry,
		loader:    loader,
		resolver:  resolver,
		validate:  validator.New(),
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}

	ms.server = &http.Server{
		Addr:         addr,
		Handler:      ms.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the request router.
func (ms *ModelServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/infer", ms.handleInfer)
	mux.HandleFunc("/infer/batch", ms.handleInferBatch)
	mux.HandleFunc("/explain", ms.handleExplain)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)
	mux.HandleFunc("/admin/reload", ms.handleReload)
	return mux
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req InferenceRequest
	if !ms.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	ms.fillSignals(ctx, &req)
	pred, err := ms.engine.Infer(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (ms *ModelServer) handleInferBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRequest
	if !ms.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	sigs := make(map[string]signals.Set)
	if ms.resolver != nil {
		for _, item := range req.Requests {
			if _, done := sigs[item.Subject]; !done {
				sigs[item.Subject] = ms.resolver.Resolve(ctx, item.Subject)
			}
		}
	}

	preds, err := ms.engine.InferBatch(ctx, req.Requests, sigs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := BatchResponse{
		Predictions: FilterByConfidence(preds, req.MinConfidence),
		Requested:   len(req.Requests),
	}
	if len(preds) > 0 {
		resp.ModelVersion = preds[0].ModelVersion
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExplainRequest
	if !ms.decode(w, r, &req) {
		return
	}

	attr, err := ms.engine.Explain(r.Context(), req.Features)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attr)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		UptimeSeconds: time.Since(ms.startTime).Seconds(),
		LastCheck:     time.Now(),
	}
	if a, err := ms.registry.Current(); err == nil {
		health.Healthy = true
		health.ModelLoaded = true
		health.ModelVersion = a.Version()
		health.TrainedAt = a.TrainingTimestamp()
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	a, err := ms.registry.Current()
	if err != nil {
		writeError(w, err)
		return
	}

	info := map[string]interface{}{
		"version":         a.Version(),
		"trained_at":      a.TrainingTimestamp(),
		"feature_order":   a.FeatureOrder(),
		"schema_version":  a.Schema().Version(),
		"models":          a.ModelIdentities(),
		"reference_model": a.ReferenceModel(),
		"folds":           a.Folds(),
		"summary":         a.Summary(),
	}
	writeJSON(w, http.StatusOK, info)
}

func (ms *ModelServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ms.loader == nil {
		http.Error(w, "reload not configured", http.StatusNotImplemented)
		return
	}

	a, err := ms.registry.Reload(r.Context(), ms.loader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": a.Version()})
}

func (ms *ModelServer) fillSignals(ctx context.Context, req *InferenceRequest) {
	if ms.resolver == nil || (req.Sentiment != nil && req.Momentum != nil) {
		return
	}
	set := ms.resolver.Resolve(ctx, req.Subject)
	if req.Sentiment == nil {
		req.Sentiment = set.Sentiment
	}
	if req.Momentum == nil {
		req.Momentum = set.Momentum
	}
}

func (ms *ModelServer) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	if err := ms.validate.StructCtx(r.Context(), dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoArtifact):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrSchemaMismatch),
		errors.Is(err, features.ErrUnknownFeature),
		errors.Is(err, features.ErrNonFiniteFeature):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
