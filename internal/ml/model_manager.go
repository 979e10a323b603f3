package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrVersionNotFound is returned for unknown artifact versions.
var ErrVersionNotFound = errors.New("artifact version not found")

// ArtifactStore persists serialised artifacts and the version index.
type ArtifactStore interface {
	SaveArtifact(version string, data []byte) error
	LoadArtifact(version string) ([]byte, error)
	SaveVersionIndex(data []byte) error
	LoadVersionIndex() ([]byte, error)
}

// ModelVersion represents a versioned artifact
type ModelVersion struct {
	Version   string       `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Models    []string     `json:"models"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelManager handles artifact versioning and rollback. The index in the
// store is authoritative: every operation re-reads it first, so a version
// added or activated by another process is seen on the next call.
type ModelManager struct {
	mu           sync.Mutex
	store        ArtifactStore
	versions     []ModelVersion
	currentModel *ModelVersion
}

// NewModelManager creates a new model manager
func NewModelManager(store ArtifactStore) (*ModelManager, error) {
	if store == nil {
		return nil, fmt.Errorf("model manager requires a store")
	}
	mm := &ModelManager{
		store:    store,
		versions: make([]ModelVersion, 0),
	}

	// Load existing versions if available
	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// AddVersion persists a and records it as an inactive version
func (mm *ModelManager) AddVersion(a *Artifact) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if err := mm.loadVersions(); err != nil {
		return ModelVersion{}, fmt.Errorf("load version index: %w", err)
	}
	for _, v := range mm.versions {
		if v.Version == a.Version() {
			return ModelVersion{}, fmt.Errorf("version %s already exists", a.Version())
		}
	}

	data, err := MarshalArtifact(a)
	if err != nil {
		return ModelVersion{}, err
	}
	if err := mm.store.SaveArtifact(a.Version(), data); err != nil {
		return ModelVersion{}, fmt.Errorf("save artifact %s: %w", a.Version(), err)
	}

	version := ModelVersion{
		Version:   a.Version(),
		CreatedAt: a.TrainingTimestamp(),
		Models:    a.ModelIdentities(),
		Metrics:   a.Summary().Blended,
	}
	mm.versions = append(mm.versions, version)

	// Sort versions by creation time, newest first
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})
	mm.refreshCurrent()

	return version, mm.saveVersions()
}

// ActivateVersion activates a specific artifact version
func (mm *ModelManager) ActivateVersion(version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if err := mm.loadVersions(); err != nil {
		return fmt.Errorf("load version index: %w", err)
	}
	return mm.activate(version)
}

func (mm *ModelManager) activate(version string) error {
	found := false
	for i := range mm.versions {
		if mm.versions[i].Version == version {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}
	for i := range mm.versions {
		mm.versions[i].IsActive = mm.versions[i].Version == version
	}
	mm.refreshCurrent()
	return mm.saveVersions()
}

// Rollback activates the version trained before the active one
func (mm *ModelManager) Rollback() (string, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if err := mm.loadVersions(); err != nil {
		return "", fmt.Errorf("load version index: %w", err)
	}
	if len(mm.versions) < 2 {
		return "", fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return "", fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(mm.versions) {
		return "", fmt.Errorf("no previous version available")
	}

	previous := mm.versions[currentIdx+1].Version
	return previous, mm.activate(previous)
}

// GetCurrentVersion returns the active version, or nil
func (mm *ModelManager) GetCurrentVersion() *ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.refreshFromStore()
	if mm.currentModel == nil {
		return nil
	}
	v := *mm.currentModel
	return &v
}

// ListVersions returns all versions, newest first
func (mm *ModelManager) ListVersions() []ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.refreshFromStore()
	return append([]ModelVersion(nil), mm.versions...)
}

// LoadVersion decodes a stored artifact.
func (mm *ModelManager) LoadVersion(ctx context.Context, version string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := mm.store.LoadArtifact(version)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", version, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}
	return UnmarshalArtifact(data)
}

// LoadActive re-reads the version index and decodes the artifact it marks
// active. It satisfies ArtifactLoader.
func (mm *ModelManager) LoadActive(ctx context.Context) (*Artifact, error) {
	mm.mu.Lock()
	if err := mm.loadVersions(); err != nil {
		mm.mu.Unlock()
		return nil, fmt.Errorf("load version index: %w", err)
	}
	var active string
	if mm.currentModel != nil {
		active = mm.currentModel.Version
	}
	mm.mu.Unlock()

	if active == "" {
		return nil, fmt.Errorf("%w: no active version", ErrVersionNotFound)
	}
	return mm.LoadVersion(ctx, active)
}

// StoreOpener opens an ArtifactStore for one load and returns the function
// that releases it.
type StoreOpener func() (ArtifactStore, func() error, error)

// ActiveLoader returns an ArtifactLoader that opens the store, decodes the
// artifact its index marks active, then releases the store. The store is
// held only for the duration of each call.
func ActiveLoader(open StoreOpener) ArtifactLoader {
	return func(ctx context.Context) (*Artifact, error) {
		store, release, err := open()
		if err != nil {
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn().Err(err).Msg("Failed to release artifact store")
			}
		}()

		mm, err := NewModelManager(store)
		if err != nil {
			return nil, err
		}
		return mm.LoadActive(ctx)
	}
}

func (mm *ModelManager) refreshCurrent() {
	mm.currentModel = nil
	for i := range mm.versions {
		if mm.versions[i].IsActive {
			mm.currentModel = &mm.versions[i]
			break
		}
	}
}

// refreshFromStore re-reads the index, keeping the last good copy on failure.
func (mm *ModelManager) refreshFromStore() {
	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to re-read model versions, using cached index")
	}
}

// loadVersions loads the version index from the store
func (mm *ModelManager) loadVersions() error {
	data, err := mm.store.LoadVersionIndex()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	var versions []ModelVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return err
	}
	mm.versions = versions
	mm.refreshCurrent()
	return nil
}

// saveVersions writes the version index to the store
func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}
	return mm.store.SaveVersionIndex(data)
}
