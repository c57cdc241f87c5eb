package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of payload carried by an Event.
type EventType string

const (
	EventBiometricSample    EventType = "biometric_sample"
	EventSymptomReport      EventType = "symptom_report"
	EventPredictionReceived EventType = "prediction_received"
	EventManualOverride     EventType = "manual_override"
	EventConflictResolved   EventType = "conflict_resolved"
	EventAlertAcknowledged  EventType = "alert_acknowledged"
)

// EventPayload is the closed set of payload variants. Each variant validates
// itself at construction time; an unknown kind never round-trips through the
// store silently.
type EventPayload interface {
	EventType() EventType
	Validate() error
}

// BiometricSample is a single measured value for a tracked signal
// (heart_rate_variability, sleep_minutes, ...).
type BiometricSample struct {
	Signal string  `json:"signal"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
}

func (BiometricSample) EventType() EventType { return EventBiometricSample }

func (p BiometricSample) Validate() error {
	if p.Signal == "" {
		return &ValidationError{Field: "signal", Message: "signal name is required"}
	}
	return nil
}

// SymptomReport is a patient- or clinician-reported score for a symptom signal.
type SymptomReport struct {
	Signal string  `json:"signal"`
	Score  float64 `json:"score"`
	Note   string  `json:"note,omitempty"`
}

func (SymptomReport) EventType() EventType { return EventSymptomReport }

func (p SymptomReport) Validate() error {
	if p.Signal == "" {
		return &ValidationError{Field: "signal", Message: "signal name is required"}
	}
	return nil
}

// PredictionReceived records a model output that was merged into the twin.
type PredictionReceived struct {
	Result PredictionResult `json:"result"`
}

func (PredictionReceived) EventType() EventType { return EventPredictionReceived }

func (p PredictionReceived) Validate() error {
	if p.Result.ModelName == "" {
		return &ValidationError{Field: "result.model_name", Message: "model name is required"}
	}
	if p.Result.Confidence < 0 || p.Result.Confidence > 1 {
		return &ValidationError{Field: "result.confidence", Message: "confidence must be within [0,1]"}
	}
	return nil
}

// ManualOverride is a clinician-entered correction. Field uses the form
// "prediction:<model>"; Value is the overriding numeric value.
type ManualOverride struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (ManualOverride) EventType() EventType { return EventManualOverride }

func (p ManualOverride) Validate() error {
	if p.Field == "" {
		return &ValidationError{Field: "field", Message: "override field is required"}
	}
	if p.Reason == "" {
		return &ValidationError{Field: "reason", Message: "override reason is required"}
	}
	return nil
}

// ConflictResolved is a derived audit event written by the State Manager
// whenever an optimistic write lost the race and was merged instead.
type ConflictResolved struct {
	BaseVersion  int64    `json:"base_version"`
	MergedModels []string `json:"merged_models,omitempty"`
}

func (ConflictResolved) EventType() EventType { return EventConflictResolved }

func (p ConflictResolved) Validate() error {
	if p.BaseVersion < 0 {
		return &ValidationError{Field: "base_version", Message: "base version must be non-negative"}
	}
	return nil
}

// AlertAcknowledged closes an alert. Acknowledgement is its own log entry;
// the original alert record is never rewritten.
type AlertAcknowledged struct {
	AlertID string `json:"alert_id"`
	Note    string `json:"note,omitempty"`
}

func (AlertAcknowledged) EventType() EventType { return EventAlertAcknowledged }

func (p AlertAcknowledged) Validate() error {
	if p.AlertID == "" {
		return &ValidationError{Field: "alert_id", Message: "alert id is required"}
	}
	return nil
}

// Event is one immutable entry in a patient's log. OccurredAt is
// caller-supplied and may arrive out of order; Sequence and RecordedAt are
// assigned by the store and are monotonic within a patient.
type Event struct {
	PatientID  string       `json:"patient_id"`
	EventID    string       `json:"event_id"`
	Type       EventType    `json:"event_type"`
	Payload    EventPayload `json:"payload"`
	OccurredAt time.Time    `json:"occurred_at"`
	RecordedAt time.Time    `json:"recorded_at"`
	Sequence   int64        `json:"sequence"`
}

// NewEvent validates and assembles an event ready for appending. The store
// fills Sequence and RecordedAt.
func NewEvent(patientID, eventID string, payload EventPayload, occurredAt time.Time) (Event, error) {
	if patientID == "" {
		return Event{}, &ValidationError{Field: "patient_id", Message: "patient id is required"}
	}
	if eventID == "" {
		return Event{}, &ValidationError{Field: "event_id", Message: "event id is required"}
	}
	if payload == nil {
		return Event{}, &ValidationError{Field: "payload", Message: "payload is required"}
	}
	if err := payload.Validate(); err != nil {
		return Event{}, err
	}
	if occurredAt.IsZero() {
		return Event{}, &ValidationError{Field: "occurred_at", Message: "occurrence time is required"}
	}
	return Event{
		PatientID:  patientID,
		EventID:    eventID,
		Type:       payload.EventType(),
		Payload:    payload,
		OccurredAt: occurredAt.UTC(),
	}, nil
}

// MarshalPayload serializes a payload for storage.
func MarshalPayload(p EventPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// UnmarshalPayload decodes a stored payload. Unknown event types are an
// error, not a silent no-op.
func UnmarshalPayload(t EventType, data []byte) (EventPayload, error) {
	var (
		p   EventPayload
		err error
	)
	switch t {
	case EventBiometricSample:
		var v BiometricSample
		err = json.Unmarshal(data, &v)
		p = v
	case EventSymptomReport:
		var v SymptomReport
		err = json.Unmarshal(data, &v)
		p = v
	case EventPredictionReceived:
		var v PredictionReceived
		err = json.Unmarshal(data, &v)
		p = v
	case EventManualOverride:
		var v ManualOverride
		err = json.Unmarshal(data, &v)
		p = v
	case EventConflictResolved:
		var v ConflictResolved
		err = json.Unmarshal(data, &v)
		p = v
	case EventAlertAcknowledged:
		var v AlertAcknowledged
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", t)}
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshaling %s payload: %w", t, err)
	}
	return p, nil
}
