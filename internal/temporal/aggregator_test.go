package temporal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/domain"
)

func biometricAt(at time.Time, signal string, value float64) domain.Event {
	return domain.Event{
		PatientID:  "P1",
		EventID:    uuid.New().String(),
		Type:       domain.EventBiometricSample,
		Payload:    domain.BiometricSample{Signal: signal, Value: value, Unit: "ms"},
		OccurredAt: at,
	}
}

func symptomAt(at time.Time, signal string, score float64) domain.Event {
	return domain.Event{
		PatientID:  "P1",
		EventID:    uuid.New().String(),
		Type:       domain.EventSymptomReport,
		Payload:    domain.SymptomReport{Signal: signal, Score: score},
		OccurredAt: at,
	}
}

func TestAggregateWindowStatistics(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(Config{}, nil)

	var events []domain.Event
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for i, v := range values {
		events = append(events, biometricAt(now.Add(-time.Duration(len(values)-i)*30*time.Minute), "heart_rate_variability", v))
	}

	snap := agg.Aggregate(events, now)
	require.Contains(t, snap.Windows, "heart_rate_variability")
	windows := snap.Windows["heart_rate_variability"]
	require.Len(t, windows, 3, "short, medium and long windows all cover the samples")

	short := windows[0]
	assert.Equal(t, 8, short.SampleCount)
	assert.InDelta(t, 5.0, short.Mean, 1e-9)
	assert.InDelta(t, 4.0, short.Variance, 1e-9)
	assert.Equal(t, now.Add(-6*time.Hour), short.WindowStart)
	assert.Equal(t, now, short.WindowEnd)

	assert.Equal(t, now.Add(-30*time.Minute), snap.ObservedAt, "observed_at is the newest contributing sample")
}

func TestAggregateWindowBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(Config{}, nil)

	events := []domain.Event{
		biometricAt(now.Add(-time.Hour), "sleep_minutes", 400),
		biometricAt(now.Add(-10*time.Hour), "sleep_minutes", 420), // medium only
		biometricAt(now.Add(-25*24*time.Hour), "sleep_minutes", 380), // outside long window
	}

	snap := agg.Aggregate(events, now)
	windows := snap.Windows["sleep_minutes"]
	require.Len(t, windows, 3)
	assert.Equal(t, 1, windows[0].SampleCount)
	assert.Equal(t, 2, windows[1].SampleCount)
	assert.Equal(t, 2, windows[2].SampleCount, "samples older than the long window are excluded")
}

func TestAggregateIgnoresNonMeasurementEvents(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(Config{}, nil)

	events := []domain.Event{
		{
			PatientID:  "P1",
			EventID:    uuid.New().String(),
			Type:       domain.EventPredictionReceived,
			Payload:    domain.PredictionReceived{Result: domain.PredictionResult{ModelName: "forecast", Value: 0.9, Confidence: 0.8}},
			OccurredAt: now.Add(-time.Hour),
		},
		symptomAt(now.Add(-time.Hour), "symptom_score", 4),
	}

	snap := agg.Aggregate(events, now)
	assert.Len(t, snap.Windows, 1)
	assert.Contains(t, snap.Windows, "symptom_score")
}

func TestAggregateEmptyLog(t *testing.T) {
	agg := NewAggregator(Config{}, nil)
	snap := agg.Aggregate(nil, time.Now().UTC())
	assert.Empty(t, snap.Windows)
	assert.True(t, snap.ObservedAt.IsZero())
}

func TestAutocorrLag1(t *testing.T) {
	// A strictly alternating series is strongly anticorrelated at lag 1.
	alternating := []float64{1, -1, 1, -1, 1, -1, 1, -1}
	ac := autocorrLag1(alternating, mean(alternating))
	assert.Less(t, ac, -0.8)

	// A constant series has no defined autocorrelation and reports zero.
	flat := []float64{3, 3, 3, 3}
	assert.Zero(t, autocorrLag1(flat, 3))
}

func TestSampleEntropyRegularVsIrregular(t *testing.T) {
	regular := []float64{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2}
	irregular := []float64{1, 2, 1, 3, 1, 2, 1, 4, 1, 2, 1, 5}

	assert.Less(t, sampleEntropy(regular), sampleEntropy(irregular),
		"a periodic series is less complex than an irregular one")
	assert.Zero(t, sampleEntropy([]float64{4, 4, 4, 4, 4}), "constant series carries no complexity")
}
