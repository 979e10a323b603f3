package ml

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ArtifactLoader fetches and decodes a complete artifact.
type ArtifactLoader func(ctx context.Context) (*Artifact, error)

// Registry publishes the active artifact. Readers never observe a partially
// loaded artifact: a new one becomes visible only after it has been fully
// decoded and validated.
type Registry struct {
	current atomic.Pointer[Artifact]
	mu      sync.Mutex // serialises reloads
	metrics MetricsInterface
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics MetricsInterface) *Registry {
	return &Registry{metrics: metricsOrNoop(metrics)}
}

// Current returns the active artifact or ErrSchemaMismatch when none is
// loaded.
func (r *Registry) Current() (*Artifact, error) {
	a := r.current.Load()
	if a == nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, ErrNoArtifact)
	}
	return a, nil
}

// Swap publishes a and returns the artifact it replaced.
func (r *Registry) Swap(a *Artifact) (*Artifact, error) {
	if a == nil {
		return nil, fmt.Errorf("cannot publish a nil artifact")
	}
	old := r.current.Swap(a)
	r.metrics.ArtifactReloadsInc()
	r.metrics.ArtifactAgeSet(time.Since(a.TrainingTimestamp()).Seconds())

	event := log.Info().Str("version", a.Version()).Strs("models", a.ModelIdentities())
	if old != nil {
		event = event.Str("previous", old.Version())
	}
	event.Msg("Published artifact")
	return old, nil
}

// Reload runs loader and publishes its result. If loading fails or ctx is
// cancelled first, the previous artifact stays active.
func (r *Registry) Reload(ctx context.Context, loader ArtifactLoader) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := loader(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Artifact reload failed, keeping current artifact")
		return nil, fmt.Errorf("reload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Artifact reload interrupted, keeping current artifact")
		return nil, fmt.Errorf("reload: %w", err)
	}
	if _, err := r.Swap(a); err != nil {
		return nil, err
	}
	return a, nil
}
