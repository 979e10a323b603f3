package ml

import (
	"errors"

	"propcast/internal/features"
)

var (
	// ErrSchemaMismatch covers width and version disagreements between an
	// input and the loaded artifact, and inference without any artifact.
	ErrSchemaMismatch = features.ErrSchemaMismatch
	// ErrInsufficientModels is returned when no base model survives training.
	ErrInsufficientModels = errors.New("insufficient models")
	// ErrModelOrderMismatch is returned when base-model outputs or persisted
	// models disagree with the recorded model order.
	ErrModelOrderMismatch = errors.New("model order mismatch")
	// ErrInsufficientSamples is returned when there are too few rows to
	// split into folds and a holdout.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrDegenerateTarget is returned by Fit when only one class is present.
	ErrDegenerateTarget = errors.New("degenerate target")
	// ErrNotFitted is returned when a classifier is used before Fit.
	ErrNotFitted = errors.New("classifier not fitted")
	// ErrUnknownKind is returned for an estimator kind with no implementation.
	ErrUnknownKind = errors.New("unknown estimator kind")
	// ErrNoArtifact is returned, together with ErrSchemaMismatch, when
	// inference is attempted before any artifact has been published.
	ErrNoArtifact = errors.New("no artifact loaded")
)
