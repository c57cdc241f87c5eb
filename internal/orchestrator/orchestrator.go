// Package orchestrator fans refresh calls out to the prediction service
// adapters with per-model circuit breaking, deadlines and last-known-good
// fallback. One model's failure never blocks or invalidates another's result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/digital-twin-engine/internal/domain"
)

// Config tunes breaker behavior and per-model deadlines.
type Config struct {
	// Consecutive failures before a breaker trips open.
	FailureThreshold uint32 `json:"failure_threshold"`
	// How long an open breaker waits before a half-open probe.
	Cooldown time.Duration `json:"cooldown"`
	// Per-adapter call deadline. Deliberately per model, not global, so one
	// slow model cannot starve the others.
	ModelTimeout time.Duration `json:"model_timeout"`
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.ModelTimeout == 0 {
		c.ModelTimeout = 5 * time.Second
	}
}

// Orchestrator owns the breaker registry and the adapter set. Breaker state
// is keyed per (patient, model) in this explicitly owned struct; there is no
// process-wide registry.
type Orchestrator struct {
	cfg      Config
	log      *logrus.Logger
	adapters []domain.PredictionService
	lkg      *LastKnownGood

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates an orchestrator over the given adapters.
func New(cfg Config, logger *logrus.Logger, lkg *LastKnownGood, adapters ...domain.PredictionService) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		log:      logger,
		adapters: adapters,
		lkg:      lkg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func breakerKey(patientID, model string) string {
	return patientID + "/" + model
}

func (o *Orchestrator) breaker(patientID, model string) *gobreaker.CircuitBreaker {
	key := breakerKey(patientID, model)

	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[key]; ok {
		return cb
	}

	threshold := o.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     o.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
	})
	o.breakers[key] = cb
	return cb
}

// Gather calls every adapter whose breaker admits the request, concurrently,
// and collects results independently. Failed or short-circuited models get
// the last-known-good result marked degraded, or are omitted when none
// exists. Models cancelled by the caller's deadline are omitted (unavailable
// rather than degraded).
func (o *Orchestrator) Gather(ctx context.Context, patientID string, features domain.FeatureSnapshot) map[string]domain.PredictionResult {
	type outcome struct {
		model  string
		result domain.PredictionResult
		ok     bool
	}

	results := make(chan outcome, len(o.adapters))
	var wg sync.WaitGroup

	for _, adapter := range o.adapters {
		wg.Add(1)
		go func(adapter domain.PredictionService) {
			defer wg.Done()
			model := adapter.Name()

			res, err := o.callOne(ctx, patientID, adapter, features)
			if err == nil {
				results <- outcome{model: model, result: res, ok: true}
				return
			}

			if ctx.Err() != nil {
				// Refresh deadline elapsed mid-call: unavailable, not degraded.
				o.log.WithField("model", model).Warn("Model call cancelled by refresh deadline")
				results <- outcome{model: model}
				return
			}

			o.logFailure(patientID, model, err)

			if lkg, ok := o.lkg.Get(ctx, patientID, model); ok {
				lkg.Degraded = true
				results <- outcome{model: model, result: lkg, ok: true}
				return
			}
			results <- outcome{model: model}
		}(adapter)
	}

	wg.Wait()
	close(results)

	out := make(map[string]domain.PredictionResult, len(o.adapters))
	for oc := range results {
		if oc.ok {
			out[oc.model] = oc.result
		}
	}
	return out
}

// callOne executes a single adapter call through its breaker with the
// per-model deadline.
func (o *Orchestrator) callOne(ctx context.Context, patientID string, adapter domain.PredictionService, features domain.FeatureSnapshot) (domain.PredictionResult, error) {
	cb := o.breaker(patientID, adapter.Name())

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	value, err := cb.Execute(func() (interface{}, error) {
		return adapter.Predict(callCtx, patientID, features)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.PredictionResult{}, &domain.CircuitBreakerOpenError{Model: adapter.Name()}
		}
		return domain.PredictionResult{}, err
	}

	res, ok := value.(domain.PredictionResult)
	if !ok {
		return domain.PredictionResult{}, fmt.Errorf("adapter %s returned unexpected type", adapter.Name())
	}
	o.lkg.Put(ctx, patientID, res)
	return res, nil
}

func (o *Orchestrator) logFailure(patientID, model string, err error) {
	entry := o.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"model":      model,
	})

	var open *domain.CircuitBreakerOpenError
	if errors.As(err, &open) {
		entry.Debug("Breaker open, substituting last-known-good")
		return
	}
	entry.WithError(err).Warn("Model call failed")
}

// States reports the breaker state per model for a patient; used by the ops
// surface.
func (o *Orchestrator) States(patientID string) map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()

	states := make(map[string]string, len(o.adapters))
	for _, adapter := range o.adapters {
		key := breakerKey(patientID, adapter.Name())
		if cb, ok := o.breakers[key]; ok {
			states[adapter.Name()] = cb.State().String()
		} else {
			states[adapter.Name()] = gobreaker.StateClosed.String()
		}
	}
	return states
}

// Models lists the adapter names in registration order.
func (o *Orchestrator) Models() []string {
	names := make([]string, 0, len(o.adapters))
	for _, a := range o.adapters {
		names = append(names, a.Name())
	}
	return names
}
