package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/domain"
)

func TestLastKnownGoodMemoryOnly(t *testing.T) {
	lkg, err := NewLastKnownGood(8, nil, time.Hour, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	lkg.Put(ctx, "P1", domain.PredictionResult{ModelName: "forecast", Value: 0.7, Confidence: 0.9})

	got, ok := lkg.Get(ctx, "P1", "forecast")
	require.True(t, ok)
	assert.InDelta(t, 0.7, got.Value, 1e-9)

	_, ok = lkg.Get(ctx, "P2", "forecast")
	assert.False(t, ok, "cache is keyed per patient")
}

func TestLastKnownGoodSkipsDegradedResults(t *testing.T) {
	lkg, err := NewLastKnownGood(8, nil, time.Hour, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	lkg.Put(ctx, "P1", domain.PredictionResult{ModelName: "forecast", Value: 0.7, Degraded: true})

	_, ok := lkg.Get(ctx, "P1", "forecast")
	assert.False(t, ok)
}

func TestLastKnownGoodRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()

	writer, err := NewLastKnownGood(8, client, time.Hour, testLogger())
	require.NoError(t, err)
	writer.Put(ctx, "P1", domain.PredictionResult{ModelName: "forecast", Value: 0.7, Confidence: 0.9, ProducedAt: time.Now().UTC()})

	// A second replica with a cold memory tier reads through redis.
	reader, err := NewLastKnownGood(8, client, time.Hour, testLogger())
	require.NoError(t, err)

	got, ok := reader.Get(ctx, "P1", "forecast")
	require.True(t, ok)
	assert.InDelta(t, 0.7, got.Value, 1e-9)
	assert.Equal(t, "forecast", got.ModelName)

	// Redis entries expire.
	mr.FastForward(2 * time.Hour)
	cold, err := NewLastKnownGood(8, client, time.Hour, testLogger())
	require.NoError(t, err)
	_, ok = cold.Get(ctx, "P1", "forecast")
	assert.False(t, ok)
}
