package twin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/alerts"
	"github.com/digital-twin-engine/internal/domain"
	"github.com/digital-twin-engine/internal/orchestrator"
	"github.com/digital-twin-engine/internal/state"
	"github.com/digital-twin-engine/internal/temporal"
)

// ErrNotFound reports a patient with no stored twin state.
var ErrNotFound = errors.New("twin state not found")

// Service is the integration façade: the single entry point that turns a
// patient's event log into a refreshed twin state and any alerts the
// transition produced.
type Service struct {
	events     domain.EventStore
	aggregator *temporal.Aggregator
	orch       *orchestrator.Orchestrator
	manager    *state.Manager
	generator  *alerts.Generator
	publisher  *alerts.Publisher
	log        *logrus.Logger

	refreshTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the façade.
func NewService(
	events domain.EventStore,
	aggregator *temporal.Aggregator,
	orch *orchestrator.Orchestrator,
	manager *state.Manager,
	generator *alerts.Generator,
	publisher *alerts.Publisher,
	refreshTimeout time.Duration,
	logger *logrus.Logger,
) *Service {
	if refreshTimeout == 0 {
		refreshTimeout = 15 * time.Second
	}
	return &Service{
		events:         events,
		aggregator:     aggregator,
		orch:           orch,
		manager:        manager,
		generator:      generator,
		publisher:      publisher,
		log:            logger,
		refreshTimeout: refreshTimeout,
		locks:          make(map[string]*sync.Mutex),
	}
}

// patientLock returns the per-patient mutex that serializes refreshes for
// one patient while leaving other patients unblocked.
func (s *Service) patientLock(patientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[patientID] = lock
	}
	return lock
}

// Ingest validates and appends one event to the patient's log. The twin is
// not refreshed; callers decide when to fold.
func (s *Service) Ingest(ctx context.Context, patientID, eventID string, payload domain.EventPayload, occurredAt time.Time) (domain.Event, error) {
	ev, err := domain.NewEvent(patientID, eventID, payload, occurredAt)
	if err != nil {
		return domain.Event{}, err
	}
	return s.events.Append(ctx, patientID, ev)
}

// Refresh folds the patient's log into a new twin state: aggregate temporal
// features, gather model predictions through the breakers, apply the update
// with merge-on-conflict, then evaluate and publish alerts. Returns the
// stored state and the newly raised alerts.
func (s *Service) Refresh(ctx context.Context, patientID string) (domain.PatientState, []domain.AlertRecord, error) {
	lock := s.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	events, err := s.events.ReadSince(ctx, patientID, 0)
	if err != nil {
		return domain.PatientState{}, nil, err
	}
	if len(events) == 0 {
		return domain.PatientState{}, nil, fmt.Errorf("no events recorded for patient %s", patientID)
	}
	last := events[len(events)-1]
	now := time.Now().UTC()

	previous, found, err := s.manager.Query(ctx, patientID)
	if err != nil {
		return domain.PatientState{}, nil, err
	}
	if !found {
		previous = domain.PatientState{PatientID: patientID}
	}

	features := s.aggregator.Aggregate(events, now)
	ewsResults := s.aggregator.DetectEWS(events, now)
	predictions := s.orch.Gather(ctx, patientID, features)

	// Live outputs go on the log before the snapshot write so folding the
	// log alone reproduces the stored prediction map. Degraded results are
	// substitutions of outputs already recorded in an earlier round.
	for _, res := range predictions {
		if res.Degraded {
			continue
		}
		ev, err := predictionEvent(patientID, res, now)
		if err != nil {
			return domain.PatientState{}, nil, err
		}
		appended, err := s.events.Append(ctx, patientID, ev)
		if err != nil {
			return domain.PatientState{}, nil, err
		}
		if appended.Sequence > last.Sequence {
			last = appended
		}
	}

	// Models that produced nothing this round keep their previous results;
	// absence is unavailability, not evidence.
	for model, prev := range previous.Predictions {
		if _, ok := predictions[model]; !ok {
			if predictions == nil {
				predictions = make(map[string]domain.PredictionResult)
			}
			predictions[model] = prev
		}
	}

	stored, err := s.manager.ApplyUpdate(ctx, patientID, previous.Version, features, predictions, last)
	if err != nil {
		return domain.PatientState{}, nil, err
	}

	raised := s.generator.Evaluate(now, stored, previous, ewsResults, last.EventID)
	for _, alert := range raised {
		s.publisher.Publish(ctx, alert)
	}

	s.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"version":    stored.Version,
		"events":     len(events),
		"models":     len(stored.Predictions),
		"alerts":     len(raised),
	}).Info("Twin refreshed")

	return stored, raised, nil
}

// predictionEvent builds the log entry for a live model output. The event
// id derives from the result itself so a retried round re-appends it as a
// no-op instead of duplicating the entry.
func predictionEvent(patientID string, res domain.PredictionResult, now time.Time) (domain.Event, error) {
	occurred := res.ProducedAt
	if occurred.IsZero() {
		occurred = now
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(fmt.Sprintf("%s|%s|%d", patientID, res.ModelName, occurred.UnixNano())))
	return domain.NewEvent(patientID, id.String(), domain.PredictionReceived{Result: res}, occurred)
}

// Query returns the stored twin state without any model calls or log reads.
func (s *Service) Query(ctx context.Context, patientID string) (domain.PatientState, error) {
	stored, found, err := s.manager.Query(ctx, patientID)
	if err != nil {
		return domain.PatientState{}, err
	}
	if !found {
		return domain.PatientState{}, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}
	return stored, nil
}

// Replay rebuilds the twin from the log alone, for audits and consistency
// checks against the stored snapshot.
func (s *Service) Replay(ctx context.Context, patientID string) (domain.PatientState, error) {
	return s.manager.Replay(ctx, patientID)
}

// BreakerStates exposes the per-model breaker states for a patient.
func (s *Service) BreakerStates(patientID string) map[string]string {
	return s.orch.States(patientID)
}

// ActiveAlerts returns the open alerts for a patient.
func (s *Service) ActiveAlerts(patientID string) []domain.AlertRecord {
	return s.generator.Active(patientID)
}

// AcknowledgeAlert closes an alert. The acknowledgement is appended to the
// owning patient's log as its own event; the original record stays as it
// was raised.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	patientID, ok := s.generator.Acknowledge(alertID)
	if !ok {
		return false, nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("alert-ack|"+alertID))
	ev, err := domain.NewEvent(patientID, id.String(), domain.AlertAcknowledged{AlertID: alertID}, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if _, err := s.events.Append(ctx, patientID, ev); err != nil {
		return false, err
	}
	return true, nil
}
