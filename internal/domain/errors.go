package domain

import (
	"fmt"
	"time"
)

// ValidationError marks malformed input. Rejected, never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// DuplicateEventError is internal to the store backends; Append swallows it
// and returns the original event so ingestion retries stay idempotent.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s already recorded", e.EventID)
}

// StoreUnavailableError is fatal for the current refresh; callers should
// retry with backoff.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("event store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// VersionConflictError reports an optimistic-concurrency miss. The State
// Manager resolves it through the merge path; it only escapes when merging
// itself is impossible.
type VersionConflictError struct {
	PatientID string
	// Expected is the stored version the writer observed before its
	// attempt; Actual is what the store actually held.
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for patient %s: expected %d, stored %d", e.PatientID, e.Expected, e.Actual)
}

// ModelTimeoutError reports a prediction call that exceeded its deadline.
// Recorded against the circuit breaker; never fatal to a refresh.
type ModelTimeoutError struct {
	Model   string
	Timeout time.Duration
}

func (e *ModelTimeoutError) Error() string {
	return fmt.Sprintf("model %s timed out after %s", e.Model, e.Timeout)
}

// ModelUnavailableError reports a prediction service that could not be
// reached or answered with a server-side failure.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// ModelInferenceError reports input the model rejected. Low confidence is a
// normal result, not an inference error.
type ModelInferenceError struct {
	Model   string
	Message string
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("model %s rejected input: %s", e.Model, e.Message)
}

// CircuitBreakerOpenError is expected and handled inside the orchestrator by
// substituting a degraded result; it is never surfaced to refresh callers.
type CircuitBreakerOpenError struct {
	Model string
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for model %s", e.Model)
}
