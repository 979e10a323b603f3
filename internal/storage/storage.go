// Package storage provides persistent storage for propcast.
// It uses BoltDB as the underlying storage engine to keep serialised ensemble
// artifacts, the artifact version index, and labelled feature samples that
// later feed training.
//
// All operations are safe for concurrent use; BoltDB serialises writers.
//
// A Store opened with New holds the file's exclusive lock until Close, so
// only one writing process (the trainer or the sample generator) may have it
// open at a time. The serving process uses OpenReadOnly for each reload and
// closes the store straight after.
package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	artifactsBucket = "artifacts" // serialised artifacts keyed by version
	metaBucket      = "meta"      // small documents such as the version index
	samplesBucket   = "samples"   // labelled feature samples keyed by subject and time

	versionIndexKey = "version_index"
	dbFileName      = "propcast.db"
)

// Store provides persistent storage backed by BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the database under dataPath and makes sure every
// bucket exists.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{artifactsBucket, metaBucket, samplesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing database under a shared lock. Writes fail
// with bbolt.ErrDatabaseReadOnly, and no buckets are created.
func OpenReadOnly(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database read-only: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Calling it twice is harmless.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveArtifact stores a serialised artifact under its version, replacing any
// previous bytes for that version.
func (s *Store) SaveArtifact(version string, data []byte) error {
	if version == "" {
		return fmt.Errorf("empty artifact version")
	}
	return s.put(artifactsBucket, version, data)
}

// LoadArtifact returns the stored bytes for version, or nil if there are none.
func (s *Store) LoadArtifact(version string) ([]byte, error) {
	return s.get(artifactsBucket, version)
}

// ListArtifactVersions returns every stored version in ascending order.
func (s *Store) ListArtifactVersions() ([]string, error) {
	var versions []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(artifactsBucket)).ForEach(func(k, _ []byte) error {
			versions = append(versions, string(k))
			return nil
		})
	})
	sort.Strings(versions)
	return versions, err
}

// DeleteArtifact removes a stored version. Unknown versions are ignored.
func (s *Store) DeleteArtifact(version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(artifactsBucket)).Delete([]byte(version))
	})
}

// SaveVersionIndex stores the artifact version index document.
func (s *Store) SaveVersionIndex(data []byte) error {
	return s.put(metaBucket, versionIndexKey, data)
}

// LoadVersionIndex returns the version index, or nil before the first save.
func (s *Store) LoadVersionIndex() ([]byte, error) {
	return s.get(metaBucket, versionIndexKey)
}

func (s *Store) put(bucket, key string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// get copies the value out; bbolt memory is only valid inside the tx.
func (s *Store) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
