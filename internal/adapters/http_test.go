package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*HTTPAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewHTTPAdapter(HTTPConfig{
		Name:      "forecast",
		BaseURL:   srv.URL,
		Timeout:   timeout,
		RateLimit: 100,
	})
	require.NoError(t, err)
	return adapter, srv
}

func TestHTTPAdapterPredict(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "P1", req["patient_id"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"value":         0.72,
			"confidence":    0.91,
			"model_version": "v4",
		})
	}, 2*time.Second)

	res, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, "forecast", res.ModelName)
	assert.InDelta(t, 0.72, res.Value, 1e-9)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
	assert.Equal(t, "v4", res.ModelVersion)
	assert.False(t, res.Degraded)
	assert.False(t, res.ProducedAt.IsZero())
}

func TestHTTPAdapterLowConfidenceIsNotAnError(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"value": 0.5, "confidence": 0.05})
	}, time.Second)

	res, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, res.Confidence, 1e-9)
}

func TestHTTPAdapterErrorMapping(t *testing.T) {
	t.Run("server failure", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, time.Second)

		_, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
		var unavailable *domain.ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "forecast", unavailable.Model)
	})

	t.Run("rejected input", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "empty feature snapshot", http.StatusUnprocessableEntity)
		}, time.Second)

		_, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
		var inference *domain.ModelInferenceError
		require.ErrorAs(t, err, &inference)
	})

	t.Run("timeout", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}, 50*time.Millisecond)

		_, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
		var timeout *domain.ModelTimeoutError
		require.ErrorAs(t, err, &timeout)
	})

	t.Run("connection refused", func(t *testing.T) {
		adapter, err := NewHTTPAdapter(HTTPConfig{Name: "forecast", BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
		require.NoError(t, err)

		_, err = adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
		var unavailable *domain.ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"value": 1.0, "confidence": 3.2})
		}, time.Second)

		_, err := adapter.Predict(context.Background(), "P1", domain.FeatureSnapshot{})
		var inference *domain.ModelInferenceError
		require.ErrorAs(t, err, &inference)
	})
}
