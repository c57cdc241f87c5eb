package domain

import (
	"context"
)

// EventStore is the append-only, per-patient ordered log and the engine's
// source of truth. Append is atomic per patient and idempotent on EventID:
// re-appending a previously seen event returns the stored event, not an
// error. ReadSince returns events with Sequence greater than afterSequence,
// in Sequence order; replay over the result is deterministic.
type EventStore interface {
	Append(ctx context.Context, patientID string, event Event) (Event, error)
	ReadSince(ctx context.Context, patientID string, afterSequence int64) ([]Event, error)
}

// PredictionService is the uniform contract each external model adapter
// satisfies. Predict honors ctx deadlines and fails with ModelTimeoutError,
// ModelUnavailableError or ModelInferenceError; it must not fail on low
// confidence.
type PredictionService interface {
	Name() string
	Predict(ctx context.Context, patientID string, features FeatureSnapshot) (PredictionResult, error)
}

// SnapshotStore persists the versioned twin states with atomic
// compare-and-swap by version. Save accepts a state whose Version is exactly
// one past the stored version (stored version 0 when absent) and fails with
// VersionConflictError otherwise.
type SnapshotStore interface {
	Load(ctx context.Context, patientID string) (PatientState, bool, error)
	Save(ctx context.Context, state PatientState) error
}

// Sanitizer strips PHI from free text before it leaves the engine. Internals
// are an external concern; every text field written to an alert sink must
// pass through it.
type Sanitizer interface {
	Sanitize(text string) string
}

// AlertSink receives generated alerts. Fire-and-forget from the engine's
// perspective; delivery guarantees belong to the sink.
type AlertSink interface {
	Name() string
	Publish(ctx context.Context, alert AlertRecord) error
}
