package adapters

import (
	"context"

	"github.com/digital-twin-engine/internal/domain"
)

// PredictFunc adapts a plain function to the PredictionService contract.
type PredictFunc func(ctx context.Context, patientID string, features domain.FeatureSnapshot) (domain.PredictionResult, error)

// StaticAdapter serves predictions from a function. Used for wiring local
// models and as a test double.
type StaticAdapter struct {
	name string
	fn   PredictFunc
}

// NewStaticAdapter creates a function-backed adapter.
func NewStaticAdapter(name string, fn PredictFunc) *StaticAdapter {
	return &StaticAdapter{name: name, fn: fn}
}

// Name returns the model name.
func (a *StaticAdapter) Name() string { return a.name }

// Predict invokes the wrapped function.
func (a *StaticAdapter) Predict(ctx context.Context, patientID string, features domain.FeatureSnapshot) (domain.PredictionResult, error) {
	res, err := a.fn(ctx, patientID, features)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	res.ModelName = a.name
	return res, nil
}
