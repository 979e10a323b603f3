// Package dataset turns historical observations into training matrices.
// Every row goes through features.Assemble so training sees exactly the
// column order and missing-value handling that inference does.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"propcast/internal/features"
	"propcast/internal/ml"
	"propcast/internal/storage"
)

// CSVOptions names the special columns of a CSV file. Every other column is
// a feature unless Features lists them explicitly.
type CSVOptions struct {
	LabelColumn   string
	SubjectColumn string
	Features      []string
	Policy        features.Policy
}

// SampleSource is the part of the store the loader reads from.
type SampleSource interface {
	LabelledSamples() ([]storage.SampleRecord, error)
}

// LoadCSV reads a labelled CSV file.
func LoadCSV(path string, opts CSVOptions) (ml.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return ml.Dataset{}, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()
	return ReadCSV(file, opts)
}

// ReadCSV reads labelled rows from r. Rows with an unparseable label or
// feature value are skipped and logged; an empty cell counts as missing.
func ReadCSV(r io.Reader, opts CSVOptions) (ml.Dataset, error) {
	if opts.LabelColumn == "" {
		opts.LabelColumn = "label"
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return ml.Dataset{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[strings.TrimSpace(col)] = i
	}
	labelIdx, ok := indices[opts.LabelColumn]
	if !ok {
		return ml.Dataset{}, fmt.Errorf("label column %q not in header", opts.LabelColumn)
	}
	subjectIdx := -1
	if opts.SubjectColumn != "" {
		if subjectIdx, ok = indices[opts.SubjectColumn]; !ok {
			return ml.Dataset{}, fmt.Errorf("subject column %q not in header", opts.SubjectColumn)
		}
	}

	order := opts.Features
	if len(order) == 0 {
		for _, col := range header {
			col = strings.TrimSpace(col)
			if col != opts.LabelColumn && col != opts.SubjectColumn {
				order = append(order, col)
			}
		}
	}
	schema := features.NewSchema(order)
	if err := schema.Validate(); err != nil {
		return ml.Dataset{}, err
	}

	ds := builder{Dataset: ml.Dataset{FeatureOrder: schema.Names}}
	line, skipped := 1, 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return ml.Dataset{}, fmt.Errorf("line %d: %w", line, err)
		}

		label, err := parseLabel(record[labelIdx])
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping row with bad label")
			skipped++
			continue
		}

		mapping := make(map[string]float64, len(record))
		bad := false
		for col, i := range indices {
			if i == labelIdx || i == subjectIdx || i >= len(record) || schema.Index(col) < 0 {
				continue
			}
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				log.Warn().Err(err).Int("line", line).Str("column", col).Msg("skipping row with bad value")
				bad = true
				break
			}
			mapping[col] = v
		}
		if bad {
			skipped++
			continue
		}

		subject := ""
		if subjectIdx >= 0 {
			subject = record[subjectIdx]
		}
		if err := ds.add(mapping, schema, opts.Policy, label, subject); err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping row")
			skipped++
		}
	}

	log.Info().
		Int("rows", len(ds.X)).
		Int("skipped", skipped).
		Strs("features", ds.FeatureOrder).
		Msg("CSV dataset loaded")
	return ds.Dataset, ds.finish()
}

// LoadFromStore builds a dataset from every labelled sample in src, projected
// onto featureOrder. An empty featureOrder uses the sorted union of the keys
// seen across samples.
func LoadFromStore(src SampleSource, featureOrder []string, policy features.Policy) (ml.Dataset, error) {
	samples, err := src.LabelledSamples()
	if err != nil {
		return ml.Dataset{}, fmt.Errorf("failed to load samples: %w", err)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	if len(featureOrder) == 0 {
		featureOrder = unionKeys(samples)
	}
	schema := features.NewSchema(featureOrder)
	if err := schema.Validate(); err != nil {
		return ml.Dataset{}, err
	}

	ds := builder{Dataset: ml.Dataset{FeatureOrder: schema.Names}}
	var first, last time.Time
	for _, s := range samples {
		if err := ds.add(s.Features, schema, policy, *s.Label, s.Subject); err != nil {
			log.Warn().Err(err).Str("subject", s.Subject).Time("ts", s.Timestamp).Msg("skipping sample")
			continue
		}
		if first.IsZero() {
			first = s.Timestamp
		}
		last = s.Timestamp
	}

	log.Info().
		Int("rows", len(ds.X)).
		Time("data_start", first).
		Time("data_end", last).
		Msg("Store dataset loaded")
	return ds.Dataset, ds.finish()
}

type builder struct {
	ml.Dataset
}

func (b *builder) add(mapping map[string]float64, schema features.Schema, policy features.Policy, label int, subject string) error {
	vec, err := features.Assemble(mapping, schema, policy)
	if err != nil {
		return err
	}
	b.X = append(b.X, vec.Values)
	b.Y = append(b.Y, label)
	b.Subjects = append(b.Subjects, subject)
	return nil
}

func (b *builder) finish() error {
	if len(b.X) == 0 {
		return fmt.Errorf("%w: no usable rows", ml.ErrInsufficientSamples)
	}
	return b.Validate()
}

func parseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "over", "hit":
		return 1, nil
	case "0", "0.0", "false", "under", "miss":
		return 0, nil
	}
	return 0, fmt.Errorf("label %q is not binary", s)
}

func unionKeys(samples []storage.SampleRecord) []string {
	seen := make(map[string]struct{})
	for _, s := range samples {
		for k := range s.Features {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
