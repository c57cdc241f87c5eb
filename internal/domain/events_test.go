package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	occurred := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	ev, err := NewEvent("P1", "evt-1", BiometricSample{Signal: "heart_rate_variability", Value: 48.2, Unit: "ms"}, occurred)
	require.NoError(t, err)
	assert.Equal(t, "P1", ev.PatientID)
	assert.Equal(t, EventBiometricSample, ev.Type)
	assert.Equal(t, occurred, ev.OccurredAt)
	assert.Zero(t, ev.Sequence, "sequence is store-assigned")
	assert.True(t, ev.RecordedAt.IsZero(), "recorded_at is store-assigned")
}

func TestNewEventValidation(t *testing.T) {
	occurred := time.Now()

	tests := []struct {
		name      string
		patientID string
		eventID   string
		payload   EventPayload
		occurred  time.Time
	}{
		{"missing patient", "", "e1", SymptomReport{Signal: "mood"}, occurred},
		{"missing event id", "P1", "", SymptomReport{Signal: "mood"}, occurred},
		{"nil payload", "P1", "e1", nil, occurred},
		{"missing signal", "P1", "e1", SymptomReport{}, occurred},
		{"zero occurred_at", "P1", "e1", SymptomReport{Signal: "mood"}, time.Time{}},
		{"confidence out of range", "P1", "e1", PredictionReceived{Result: PredictionResult{ModelName: "m", Confidence: 1.2}}, occurred},
		{"override without reason", "P1", "e1", ManualOverride{Field: "prediction:forecast"}, occurred},
		{"acknowledgement without alert id", "P1", "e1", AlertAcknowledged{Note: "reviewed"}, occurred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvent(tt.patientID, tt.eventID, tt.payload, tt.occurred)
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payloads := []EventPayload{
		BiometricSample{Signal: "heart_rate_variability", Value: 42.0, Unit: "ms"},
		SymptomReport{Signal: "symptom_score", Score: 7, Note: "reported in session"},
		PredictionReceived{Result: PredictionResult{ModelName: "forecast", Value: 0.7, Confidence: 0.91, ModelVersion: "v3"}},
		ManualOverride{Field: "prediction:forecast", Value: "0.4", Reason: "clinician correction"},
		ConflictResolved{BaseVersion: 3, MergedModels: []string{"forecast", "biometric"}},
		AlertAcknowledged{AlertID: "a1b2", Note: "reviewed by clinician"},
	}

	for _, p := range payloads {
		data, err := MarshalPayload(p)
		require.NoError(t, err)

		decoded, err := UnmarshalPayload(p.EventType(), data)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestUnmarshalPayloadUnknownType(t *testing.T) {
	_, err := UnmarshalPayload(EventType("medication_change"), []byte(`{}`))
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
