// Package features turns raw per-entity feature mappings into fixed-width,
// schema-versioned vectors that the ensemble can consume.
package features

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrSchemaMismatch is returned when a vector or mapping does not agree
	// with the schema a model was trained on.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUnknownFeature is returned for keys outside the schema when the
	// policy rejects them.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrNonFiniteFeature is returned for NaN or infinite inputs.
	ErrNonFiniteFeature = errors.New("non-finite feature value")
)

// Schema is the ordered list of feature names fixed at training time.
type Schema struct {
	Names []string `json:"names"`
}

// NewSchema copies names so later mutation by the caller cannot change it.
func NewSchema(names []string) Schema {
	return Schema{Names: append([]string(nil), names...)}
}

// Width is the number of features in the schema.
func (s Schema) Width() int {
	return len(s.Names)
}

// Version is a stable fingerprint of the ordered feature names.
func (s Schema) Version() string {
	h := fnv.New64a()
	for _, n := range s.Names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, n := range s.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Validate checks the schema is usable for assembly.
func (s Schema) Validate() error {
	if len(s.Names) == 0 {
		return fmt.Errorf("%w: empty feature order", ErrSchemaMismatch)
	}
	seen := make(map[string]struct{}, len(s.Names))
	for _, n := range s.Names {
		if n == "" {
			return fmt.Errorf("%w: empty feature name", ErrSchemaMismatch)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrSchemaMismatch, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// Check verifies that v was assembled against this schema.
func (s Schema) Check(v FeatureVector) error {
	if len(v.Values) != len(s.Names) {
		return fmt.Errorf("%w: vector width %d, schema width %d", ErrSchemaMismatch, len(v.Values), len(s.Names))
	}
	if v.SchemaVersion != s.Version() {
		return fmt.Errorf("%w: vector schema %s, model schema %s", ErrSchemaMismatch, v.SchemaVersion, s.Version())
	}
	return nil
}

// FeatureVector is an assembled, ordered vector. Defaulted lists the schema
// names that were absent from the input and filled from the policy.
type FeatureVector struct {
	Values        []float64 `json:"values"`
	SchemaVersion string    `json:"schema_version"`
	Defaulted     []string  `json:"defaulted,omitempty"`
}

// Policy controls how missing and extra keys are treated.
type Policy struct {
	DefaultValue  float64
	RejectUnknown bool
}

// DefaultPolicy zero-fills missing features and ignores extra keys.
func DefaultPolicy() Policy {
	return Policy{}
}

// Assemble projects mapping onto schema order. It is a pure function of its
// inputs.
func Assemble(mapping map[string]float64, schema Schema, policy Policy) (FeatureVector, error) {
	if err := schema.Validate(); err != nil {
		return FeatureVector{}, err
	}

	if policy.RejectUnknown {
		var unknown []string
		for k := range mapping {
			if schema.Index(k) < 0 {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return FeatureVector{}, fmt.Errorf("%w: %v", ErrUnknownFeature, unknown)
		}
	}

	vec := FeatureVector{
		Values:        make([]float64, len(schema.Names)),
		SchemaVersion: schema.Version(),
	}
	for i, name := range schema.Names {
		v, ok := mapping[name]
		if !ok {
			vec.Values[i] = policy.DefaultValue
			vec.Defaulted = append(vec.Defaulted, name)
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureVector{}, fmt.Errorf("%w: %s=%v", ErrNonFiniteFeature, name, v)
		}
		vec.Values[i] = v
	}
	return vec, nil
}
