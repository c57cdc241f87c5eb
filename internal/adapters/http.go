// Package adapters wraps external prediction services behind the uniform
// domain.PredictionService contract. The concrete model implementations are
// out of scope; only the call contract is defined here.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/digital-twin-engine/internal/domain"
)

// HTTPConfig configures one remote prediction service.
type HTTPConfig struct {
	Name      string        `json:"name"`
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// HTTPAdapter calls a prediction service over HTTP with client-side rate
// limiting. The caller's deadline bounds the whole call.
type HTTPAdapter struct {
	name    string
	client  *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
}

type predictRequest struct {
	PatientID string                 `json:"patient_id"`
	Features  domain.FeatureSnapshot `json:"features"`
}

type predictResponse struct {
	Value        float64   `json:"value"`
	Confidence   float64   `json:"confidence"`
	ProducedAt   time.Time `json:"produced_at"`
	ModelVersion string    `json:"model_version"`
}

// NewHTTPAdapter creates an adapter for one remote model.
func NewHTTPAdapter(cfg HTTPConfig) (*HTTPAdapter, error) {
	if cfg.Name == "" {
		return nil, &domain.ValidationError{Field: "name", Message: "model name is required"}
	}
	if cfg.BaseURL == "" {
		return nil, &domain.ValidationError{Field: "base_url", Message: "base URL is required"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPAdapter{
		name:    cfg.Name,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the model name this adapter fronts.
func (a *HTTPAdapter) Name() string { return a.name }

// Predict requests one prediction. Error mapping: deadline and transport
// timeouts become ModelTimeoutError, connection and 5xx failures become
// ModelUnavailableError, 4xx responses become ModelInferenceError. A low
// confidence value is returned as a normal result.
func (a *HTTPAdapter) Predict(ctx context.Context, patientID string, features domain.FeatureSnapshot) (domain.PredictionResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return domain.PredictionResult{}, &domain.ModelTimeoutError{Model: a.name, Timeout: a.timeout}
	}

	var out predictResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(predictRequest{PatientID: patientID, Features: features}).
		SetResult(&out).
		Post("/predict")

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return domain.PredictionResult{}, &domain.ModelTimeoutError{Model: a.name, Timeout: a.timeout}
		}
		return domain.PredictionResult{}, &domain.ModelUnavailableError{Model: a.name, Err: err}
	}

	switch {
	case resp.StatusCode() >= 500:
		return domain.PredictionResult{}, &domain.ModelUnavailableError{
			Model: a.name,
			Err:   fmt.Errorf("status %d", resp.StatusCode()),
		}
	case resp.StatusCode() >= 400:
		return domain.PredictionResult{}, &domain.ModelInferenceError{
			Model:   a.name,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	if out.Confidence < 0 || out.Confidence > 1 {
		return domain.PredictionResult{}, &domain.ModelInferenceError{
			Model:   a.name,
			Message: fmt.Sprintf("confidence %v outside [0,1]", out.Confidence),
		}
	}

	producedAt := out.ProducedAt
	if producedAt.IsZero() {
		producedAt = time.Now().UTC()
	}

	return domain.PredictionResult{
		ModelName:    a.name,
		Value:        out.Value,
		Confidence:   out.Confidence,
		ProducedAt:   producedAt,
		ModelVersion: out.ModelVersion,
	}, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
