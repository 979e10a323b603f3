package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// SampleRecord is one observed feature mapping for a subject. Label is nil
// until the outcome is known.
type SampleRecord struct {
	Subject   string             `json:"subject"`
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
	Label     *int               `json:"label,omitempty"`
}

func sampleKey(subject string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%019d", subject, ts.UnixNano()))
}

// StoreSample stores a sample for later training. A sample with the same
// subject and timestamp is overwritten, which is how labels get attached.
func (s *Store) StoreSample(record SampleRecord) error {
	if record.Subject == "" {
		return fmt.Errorf("sample without subject")
	}
	if record.Label != nil && *record.Label != 0 && *record.Label != 1 {
		return fmt.Errorf("sample label must be 0 or 1, got %d", *record.Label)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal sample record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(samplesBucket)).Put(sampleKey(record.Subject, record.Timestamp), data)
	})
}

// GetSamplesInRange returns a subject's samples with start <= ts <= end, oldest first.
func (s *Store) GetSamplesInRange(subject string, start, end time.Time) ([]SampleRecord, error) {
	var samples []SampleRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(samplesBucket)).Cursor()

		prefix := []byte(subject + "_")
		endKey := sampleKey(subject, end)
		for k, v := c.Seek(sampleKey(subject, start)); k != nil && compareKeys(k, endKey) <= 0; k, v = c.Next() {
			if !hasPrefix(k, prefix) {
				continue
			}
			var rec SampleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			samples = append(samples, rec)
		}
		return nil
	})

	return samples, err
}

// LabelledSamples returns every sample that carries a label, across all
// subjects, in key order.
func (s *Store) LabelledSamples() ([]SampleRecord, error) {
	var samples []SampleRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(samplesBucket)).ForEach(func(_, v []byte) error {
			var rec SampleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.Label != nil {
				samples = append(samples, rec)
			}
			return nil
		})
	})
	return samples, err
}
