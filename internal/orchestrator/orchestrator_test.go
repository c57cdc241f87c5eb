package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/adapters"
	"github.com/digital-twin-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestOrchestrator(t *testing.T, cfg Config, svcs ...domain.PredictionService) *Orchestrator {
	t.Helper()
	lkg, err := NewLastKnownGood(64, nil, time.Hour, testLogger())
	require.NoError(t, err)
	return New(cfg, testLogger(), lkg, svcs...)
}

func okAdapter(name string, value float64, calls *int64) domain.PredictionService {
	return adapters.NewStaticAdapter(name, func(ctx context.Context, patientID string, _ domain.FeatureSnapshot) (domain.PredictionResult, error) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		return domain.PredictionResult{Value: value, Confidence: 0.9, ProducedAt: time.Now().UTC()}, nil
	})
}

func failingAdapter(name string, calls *int64) domain.PredictionService {
	return adapters.NewStaticAdapter(name, func(ctx context.Context, patientID string, _ domain.FeatureSnapshot) (domain.PredictionResult, error) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		return domain.PredictionResult{}, &domain.ModelUnavailableError{Model: name}
	})
}

func TestGatherCollectsAllModels(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		okAdapter("forecast", 0.7, nil),
		okAdapter("biometric", 0.3, nil),
		okAdapter("pharmacogenomic", 0.5, nil),
	)

	results := o.Gather(context.Background(), "P1", domain.FeatureSnapshot{})
	require.Len(t, results, 3)
	assert.InDelta(t, 0.7, results["forecast"].Value, 1e-9)
	assert.False(t, results["forecast"].Degraded)
	assert.Equal(t, "biometric", results["biometric"].ModelName)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, Config{FailureThreshold: 5, Cooldown: time.Minute},
		failingAdapter("forecast", &calls))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	}
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
	assert.Equal(t, "open", o.States("P1")["forecast"])

	// While open, the adapter is never invoked.
	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
}

func TestBreakerClosesAfterCooldownSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	svc := adapters.NewStaticAdapter("forecast", func(ctx context.Context, patientID string, _ domain.FeatureSnapshot) (domain.PredictionResult, error) {
		if fail.Load() {
			return domain.PredictionResult{}, &domain.ModelUnavailableError{Model: "forecast"}
		}
		return domain.PredictionResult{Value: 1, Confidence: 0.9, ProducedAt: time.Now().UTC()}, nil
	})

	o := newTestOrchestrator(t, Config{FailureThreshold: 5, Cooldown: 50 * time.Millisecond}, svc)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	}
	require.Equal(t, "open", o.States("P1")["forecast"])

	fail.Store(false)
	time.Sleep(80 * time.Millisecond)

	results := o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	require.Contains(t, results, "forecast")
	assert.False(t, results["forecast"].Degraded)
	assert.Equal(t, "closed", o.States("P1")["forecast"])
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	var calls int64
	o := newTestOrchestrator(t, Config{FailureThreshold: 2, Cooldown: 30 * time.Millisecond},
		failingAdapter("forecast", &calls))
	ctx := context.Background()

	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	require.Equal(t, "open", o.States("P1")["forecast"])

	time.Sleep(50 * time.Millisecond)
	o.Gather(ctx, "P1", domain.FeatureSnapshot{}) // half-open probe fails
	assert.Equal(t, "open", o.States("P1")["forecast"])
}

func TestPartialFailureIsolation(t *testing.T) {
	o := newTestOrchestrator(t, Config{FailureThreshold: 5},
		okAdapter("forecast", 0.7, nil),
		failingAdapter("biometric", nil),
		failingAdapter("pharmacogenomic", nil),
	)
	ctx := context.Background()

	// Seed last-known-good results for the models that will fail.
	o.lkg.Put(ctx, "P1", domain.PredictionResult{ModelName: "biometric", Value: 0.4, Confidence: 0.85, ProducedAt: time.Now().UTC()})
	o.lkg.Put(ctx, "P1", domain.PredictionResult{ModelName: "pharmacogenomic", Value: 0.2, Confidence: 0.8, ProducedAt: time.Now().UTC()})

	results := o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	require.Len(t, results, 3, "the call as a whole must succeed for all models")

	assert.False(t, results["forecast"].Degraded)
	assert.True(t, results["biometric"].Degraded)
	assert.True(t, results["pharmacogenomic"].Degraded)
	assert.InDelta(t, 0.4, results["biometric"].Value, 1e-9)
}

func TestFailureWithoutLastKnownGoodOmitsModel(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		okAdapter("forecast", 0.7, nil),
		failingAdapter("biometric", nil),
	)

	results := o.Gather(context.Background(), "P1", domain.FeatureSnapshot{})
	require.Len(t, results, 1)
	assert.Contains(t, results, "forecast")
	assert.NotContains(t, results, "biometric")
}

func TestRefreshDeadlineOmitsUnfinishedModels(t *testing.T) {
	slow := adapters.NewStaticAdapter("slow", func(ctx context.Context, patientID string, _ domain.FeatureSnapshot) (domain.PredictionResult, error) {
		select {
		case <-ctx.Done():
			return domain.PredictionResult{}, &domain.ModelTimeoutError{Model: "slow"}
		case <-time.After(time.Second):
			return domain.PredictionResult{Value: 1, Confidence: 0.9}, nil
		}
	})

	o := newTestOrchestrator(t, Config{ModelTimeout: 5 * time.Second},
		okAdapter("forecast", 0.7, nil), slow)

	// Seed an LKG for the slow model; deadline cancellation must NOT use it.
	o.lkg.Put(context.Background(), "P1", domain.PredictionResult{ModelName: "slow", Value: 0.9, Confidence: 0.9, ProducedAt: time.Now().UTC()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	assert.Contains(t, results, "forecast")
	assert.NotContains(t, results, "slow", "cancelled models are unavailable, not degraded")
}

func TestBreakerStateIsPerPatient(t *testing.T) {
	var fails int64
	o := newTestOrchestrator(t, Config{FailureThreshold: 2}, failingAdapter("forecast", &fails))
	ctx := context.Background()

	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	o.Gather(ctx, "P1", domain.FeatureSnapshot{})
	assert.Equal(t, "open", o.States("P1")["forecast"])
	assert.Equal(t, "closed", o.States("P2")["forecast"], "breaker state is keyed per (patient, model)")
}
