package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreUnavailableUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreUnavailableError{Op: "append", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append")
}

func TestVersionConflictThroughWrap(t *testing.T) {
	conflict := &VersionConflictError{PatientID: "P1", Expected: 4, Actual: 6}
	wrapped := fmt.Errorf("applying update: %w", conflict)

	var target *VersionConflictError
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, int64(6), target.Actual)
}

func TestModelErrorMessages(t *testing.T) {
	assert.Contains(t, (&ModelTimeoutError{Model: "forecast", Timeout: 5 * time.Second}).Error(), "forecast")
	assert.Contains(t, (&ModelInferenceError{Model: "pgx", Message: "empty feature set"}).Error(), "empty feature set")
	assert.Contains(t, (&CircuitBreakerOpenError{Model: "biometric"}).Error(), "biometric")

	cause := errors.New("dial tcp: timeout")
	unavailable := &ModelUnavailableError{Model: "forecast", Err: cause}
	assert.ErrorIs(t, unavailable, cause)
}
