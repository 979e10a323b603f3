package storage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "propcast.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir")

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestOpenReadOnly_SharesFileAndReleasesLock(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenReadOnly(dir); err == nil {
		t.Error("Expected error opening a missing database read-only")
	}

	writer, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := writer.SaveVersionIndex([]byte(`[{"version":"v1"}]`)); err != nil {
		t.Fatalf("SaveVersionIndex: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first, err := OpenReadOnly(dir)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	second, err := OpenReadOnly(dir)
	if err != nil {
		t.Fatalf("Second read-only open should share the lock: %v", err)
	}

	index, err := second.LoadVersionIndex()
	if err != nil {
		t.Fatalf("LoadVersionIndex: %v", err)
	}
	if string(index) != `[{"version":"v1"}]` {
		t.Errorf("Unexpected index %q", index)
	}
	if err := first.SaveVersionIndex([]byte("[]")); err == nil {
		t.Error("Expected write through a read-only store to fail")
	}

	first.Close()
	second.Close()

	// once readers are gone a writer can reopen the file
	writer, err = New(dir)
	if err != nil {
		t.Fatalf("Writer could not reopen after read-only close: %v", err)
	}
	defer writer.Close()
	if err := writer.SaveVersionIndex([]byte(`[{"version":"v2"}]`)); err != nil {
		t.Errorf("SaveVersionIndex after reopen: %v", err)
	}
}

func TestStore_CloseTwice(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}

	if err := (&Store{}).Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestArtifacts(t *testing.T) {
	store := newTestStore(t)

	data, err := store.LoadArtifact("missing")
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if data != nil {
		t.Errorf("Expected nil for missing artifact, got %q", data)
	}

	if err := store.SaveArtifact("", []byte("x")); err == nil {
		t.Error("Expected error for empty version")
	}

	for _, v := range []string{"20260102-000000", "20260101-000000"} {
		if err := store.SaveArtifact(v, []byte(`{"version":"`+v+`"}`)); err != nil {
			t.Fatalf("SaveArtifact(%s): %v", v, err)
		}
	}

	data, err = store.LoadArtifact("20260101-000000")
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if string(data) != `{"version":"20260101-000000"}` {
		t.Errorf("Unexpected artifact bytes: %s", data)
	}

	versions, err := store.ListArtifactVersions()
	if err != nil {
		t.Fatalf("ListArtifactVersions: %v", err)
	}
	want := []string{"20260101-000000", "20260102-000000"}
	if !reflect.DeepEqual(versions, want) {
		t.Errorf("Expected %v, got %v", want, versions)
	}

	if err := store.DeleteArtifact("20260101-000000"); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	versions, _ = store.ListArtifactVersions()
	if len(versions) != 1 {
		t.Errorf("Expected 1 version after delete, got %d", len(versions))
	}
}

func TestVersionIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if data, _ := store.LoadVersionIndex(); data != nil {
		t.Errorf("Expected nil index on a fresh store, got %q", data)
	}
	if err := store.SaveVersionIndex([]byte(`[{"version":"a"}]`)); err != nil {
		t.Fatalf("SaveVersionIndex: %v", err)
	}
	store.Close()

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	data, err := reopened.LoadVersionIndex()
	if err != nil {
		t.Fatalf("LoadVersionIndex: %v", err)
	}
	if string(data) != `[{"version":"a"}]` {
		t.Errorf("Index not persisted, got %q", data)
	}
}

func TestSamples(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 2, 1, 19, 0, 0, 0, time.UTC)
	one := 1

	records := []SampleRecord{
		{Subject: "p1", Timestamp: base, Features: map[string]float64{"player_points": 25}},
		{Subject: "p1", Timestamp: base.Add(time.Hour), Features: map[string]float64{"player_points": 30}, Label: &one},
		{Subject: "p1", Timestamp: base.Add(2 * time.Hour), Features: map[string]float64{"player_points": 12}},
		{Subject: "p2", Timestamp: base.Add(time.Hour), Features: map[string]float64{"player_points": 8}, Label: &one},
	}
	for _, r := range records {
		if err := store.StoreSample(r); err != nil {
			t.Fatalf("StoreSample: %v", err)
		}
	}

	got, err := store.GetSamplesInRange("p1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetSamplesInRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples in inclusive range, got %d", len(got))
	}
	if got[0].Features["player_points"] != 25 || got[1].Features["player_points"] != 30 {
		t.Errorf("Samples out of order: %+v", got)
	}

	labelled, err := store.LabelledSamples()
	if err != nil {
		t.Fatalf("LabelledSamples: %v", err)
	}
	if len(labelled) != 2 {
		t.Errorf("Expected 2 labelled samples, got %d", len(labelled))
	}

	// relabelling overwrites in place
	zero := 0
	relabel := records[0]
	relabel.Label = &zero
	if err := store.StoreSample(relabel); err != nil {
		t.Fatalf("StoreSample: %v", err)
	}
	labelled, _ = store.LabelledSamples()
	if len(labelled) != 3 {
		t.Errorf("Expected 3 labelled samples after relabel, got %d", len(labelled))
	}
}

func TestStoreSample_Invalid(t *testing.T) {
	store := newTestStore(t)
	two := 2

	if err := store.StoreSample(SampleRecord{Timestamp: time.Now()}); err == nil {
		t.Error("Expected error for missing subject")
	}
	if err := store.StoreSample(SampleRecord{Subject: "p", Label: &two}); err == nil {
		t.Error("Expected error for non-binary label")
	}
}
