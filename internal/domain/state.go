package domain

import "time"

// PredictionResult is the uniform output contract every prediction service
// adapter must satisfy. Degraded marks results produced by a fallback path
// (last-known-good substitution) rather than a live model call.
type PredictionResult struct {
	ModelName    string    `json:"model_name"`
	Value        float64   `json:"value"`
	Confidence   float64   `json:"confidence"`
	ProducedAt   time.Time `json:"produced_at"`
	ModelVersion string    `json:"model_version"`
	Degraded     bool      `json:"degraded"`
}

// TemporalWindow holds the rolling statistics derived for one signal over
// one window. Derived data; never primary.
type TemporalWindow struct {
	Signal       string    `json:"signal"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Mean         float64   `json:"rolling_mean"`
	Variance     float64   `json:"rolling_variance"`
	AutocorrLag1 float64   `json:"autocorrelation_lag1"`
	Complexity   float64   `json:"complexity_score"`
	SampleCount  int       `json:"sample_count"`
}

// FeatureSnapshot is the aggregated temporal feature set handed to the
// prediction services and persisted on the twin state. ObservedAt is the
// newest occurred_at contributing to the snapshot and orders competing
// snapshots during merge.
type FeatureSnapshot struct {
	Windows    map[string][]TemporalWindow `json:"windows"`
	ObservedAt time.Time                   `json:"observed_at"`
}

// PatientState is the versioned digital twin: a read-optimized cache of the
// event fold. Version starts at 0 and increments by exactly one per accepted
// update.
type PatientState struct {
	PatientID    string                      `json:"patient_id"`
	Version      int64                       `json:"version"`
	Features     FeatureSnapshot             `json:"feature_snapshot"`
	Predictions  map[string]PredictionResult `json:"prediction_snapshot"`
	LastEventID  string                      `json:"last_event_id"`
	LastSequence int64                       `json:"last_sequence"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand states across goroutines
// without sharing the prediction map.
func (s PatientState) Clone() PatientState {
	out := s
	if s.Predictions != nil {
		out.Predictions = make(map[string]PredictionResult, len(s.Predictions))
		for k, v := range s.Predictions {
			out.Predictions[k] = v
		}
	}
	if s.Features.Windows != nil {
		out.Features.Windows = make(map[string][]TemporalWindow, len(s.Features.Windows))
		for k, v := range s.Features.Windows {
			ws := make([]TemporalWindow, len(v))
			copy(ws, v)
			out.Features.Windows[k] = ws
		}
	}
	return out
}
