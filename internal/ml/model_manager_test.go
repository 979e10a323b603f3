package ml

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	artifacts map[string][]byte
	index     []byte
}

func newMemStore() *memStore {
	return &memStore{artifacts: make(map[string][]byte)}
}

func (s *memStore) SaveArtifact(version string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[version] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) LoadArtifact(version string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[version], nil
}

func (s *memStore) SaveVersionIndex(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = append([]byte(nil), data...)
	return nil
}

func (s *memStore) LoadVersionIndex() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index, nil
}

func trainAt(t *testing.T, at time.Time) *Artifact {
	t.Helper()
	trainer, err := NewTrainer(testTrainingConfig(), nil)
	require.NoError(t, err)
	trainer.now = func() time.Time { return at }
	a, err := trainer.Train(context.Background(), syntheticDataset(80, at.Unix()))
	require.NoError(t, err)
	return a
}

func TestModelManager_AddActivateRollback(t *testing.T) {
	store := newMemStore()
	mm, err := NewModelManager(store)
	require.NoError(t, err)

	older := trainAt(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	newer := trainAt(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	_, err = mm.AddVersion(older)
	require.NoError(t, err)
	v, err := mm.AddVersion(newer)
	require.NoError(t, err)
	assert.Equal(t, "20260302-120000.000000", v.Version)
	assert.Equal(t, newer.ModelIdentities(), v.Models)

	_, err = mm.AddVersion(newer)
	assert.Error(t, err, "duplicate version")

	assert.Nil(t, mm.GetCurrentVersion())
	_, err = mm.LoadActive(context.Background())
	assert.ErrorIs(t, err, ErrVersionNotFound)

	require.NoError(t, mm.ActivateVersion(newer.Version()))
	loaded, err := mm.LoadActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newer.Version(), loaded.Version())

	previous, err := mm.Rollback()
	require.NoError(t, err)
	assert.Equal(t, older.Version(), previous)
	assert.Equal(t, older.Version(), mm.GetCurrentVersion().Version)

	_, err = mm.Rollback()
	assert.Error(t, err, "nothing older to roll back to")

	assert.ErrorIs(t, mm.ActivateVersion("missing"), ErrVersionNotFound)
}

func TestModelManager_PersistsIndex(t *testing.T) {
	store := newMemStore()
	mm, err := NewModelManager(store)
	require.NoError(t, err)

	a := trainAt(t, time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC))
	_, err = mm.AddVersion(a)
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion(a.Version()))

	reopened, err := NewModelManager(store)
	require.NoError(t, err)
	require.NotNil(t, reopened.GetCurrentVersion())
	assert.Equal(t, a.Version(), reopened.GetCurrentVersion().Version)
	assert.Len(t, reopened.ListVersions(), 1)

	registry := NewRegistry(nil)
	got, err := registry.Reload(context.Background(), reopened.LoadActive)
	require.NoError(t, err)
	assert.Equal(t, a.FeatureOrder(), got.FeatureOrder())
}

func TestModelManager_SameSecondRunsGetDistinctVersions(t *testing.T) {
	mm, err := NewModelManager(newMemStore())
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	first := trainAt(t, at.Add(100*time.Millisecond))
	second := trainAt(t, at.Add(700*time.Millisecond))
	assert.NotEqual(t, first.Version(), second.Version())

	_, err = mm.AddVersion(first)
	require.NoError(t, err)
	_, err = mm.AddVersion(second)
	require.NoError(t, err)
	assert.Len(t, mm.ListVersions(), 2)
}

func TestModelManager_LoadActiveSeesVersionsFromAnotherManager(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	server, err := NewModelManager(store)
	require.NoError(t, err)
	trainerSide, err := NewModelManager(store)
	require.NoError(t, err)

	v1 := trainAt(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err = trainerSide.AddVersion(v1)
	require.NoError(t, err)
	require.NoError(t, trainerSide.ActivateVersion(v1.Version()))

	registry := NewRegistry(nil)
	got, err := registry.Reload(ctx, server.LoadActive)
	require.NoError(t, err)
	assert.Equal(t, v1.Version(), got.Version())

	v2 := trainAt(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	_, err = trainerSide.AddVersion(v2)
	require.NoError(t, err)
	require.NoError(t, trainerSide.ActivateVersion(v2.Version()))

	got, err = registry.Reload(ctx, server.LoadActive)
	require.NoError(t, err)
	assert.Equal(t, v2.Version(), got.Version())
	assert.Equal(t, v2.Version(), server.GetCurrentVersion().Version)

	// the server-side manager must not clobber the newer index on its next write
	previous, err := server.Rollback()
	require.NoError(t, err)
	assert.Equal(t, v1.Version(), previous)
	assert.Len(t, trainerSide.ListVersions(), 2)
}

func TestActiveLoader_OpensStorePerCall(t *testing.T) {
	store := newMemStore()
	var opened, released int
	loader := ActiveLoader(func() (ArtifactStore, func() error, error) {
		opened++
		return store, func() error { released++; return nil }, nil
	})

	_, err := loader(context.Background())
	assert.ErrorIs(t, err, ErrVersionNotFound)

	writer, err := NewModelManager(store)
	require.NoError(t, err)
	a := trainAt(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	_, err = writer.AddVersion(a)
	require.NoError(t, err)
	require.NoError(t, writer.ActivateVersion(a.Version()))

	got, err := NewRegistry(nil).Reload(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, a.Version(), got.Version())
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, released)

	failing := ActiveLoader(func() (ArtifactStore, func() error, error) {
		return nil, nil, errors.New("locked")
	})
	_, err = failing(context.Background())
	assert.ErrorContains(t, err, "locked")
}
