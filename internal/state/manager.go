package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
)

const defaultMaxRetries = 3

// FeatureDeriver recomputes the temporal feature snapshot from a raw event
// log. The aggregator satisfies it; replay injects it so rebuilt states use
// the same derivation as live refreshes.
type FeatureDeriver interface {
	Aggregate(events []domain.Event, now time.Time) domain.FeatureSnapshot
}

// Manager owns the versioned twin states: optimistic writes with
// merge-on-conflict, and deterministic rebuilds from the event log.
type Manager struct {
	events     domain.EventStore
	snapshots  domain.SnapshotStore
	deriver    FeatureDeriver
	log        *logrus.Logger
	maxRetries int
}

// NewManager creates a state manager.
func NewManager(events domain.EventStore, snapshots domain.SnapshotStore, deriver FeatureDeriver, logger *logrus.Logger) *Manager {
	return &Manager{
		events:     events,
		snapshots:  snapshots,
		deriver:    deriver,
		log:        logger,
		maxRetries: defaultMaxRetries,
	}
}

// ApplyUpdate writes a new twin state at expectedVersion+1. When another
// writer got there first the update is merged with the stored state instead
// of failing: features are superseded by the newest observation, predictions
// merged model by model, and a conflict audit event appended to the log.
// The returned state is the one actually stored.
func (m *Manager) ApplyUpdate(ctx context.Context, patientID string, expectedVersion int64, features domain.FeatureSnapshot, predictions map[string]domain.PredictionResult, lastEvent domain.Event) (domain.PatientState, error) {
	candidate := domain.PatientState{
		PatientID:    patientID,
		Version:      expectedVersion + 1,
		Features:     features,
		Predictions:  predictions,
		LastEventID:  lastEvent.EventID,
		LastSequence: lastEvent.Sequence,
		UpdatedAt:    time.Now().UTC(),
	}

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err := m.snapshots.Save(ctx, candidate)
		if err == nil {
			return candidate, nil
		}

		var conflict *domain.VersionConflictError
		if !errors.As(err, &conflict) {
			return domain.PatientState{}, err
		}

		stored, found, loadErr := m.snapshots.Load(ctx, patientID)
		if loadErr != nil {
			return domain.PatientState{}, loadErr
		}
		if !found {
			// The row vanished between the CAS failure and the reread.
			// Restart from version zero.
			candidate.Version = 1
			continue
		}

		merged, mergedModels := merge(stored, candidate)
		if err := m.recordConflict(ctx, patientID, stored.Version, mergedModels); err != nil {
			return domain.PatientState{}, err
		}
		m.log.WithFields(logrus.Fields{
			"patient_id":    patientID,
			"base_version":  stored.Version,
			"merged_models": mergedModels,
		}).Info("Concurrent update merged")

		candidate = merged
	}
	return domain.PatientState{}, fmt.Errorf("state update for patient %s did not converge after %d retries", patientID, m.maxRetries)
}

// Query returns the stored twin state without touching models or the log.
func (m *Manager) Query(ctx context.Context, patientID string) (domain.PatientState, bool, error) {
	return m.snapshots.Load(ctx, patientID)
}

// recordConflict appends the merge audit event. Conflict resolutions are
// part of the patient's history, not a silent repair.
func (m *Manager) recordConflict(ctx context.Context, patientID string, baseVersion int64, mergedModels []string) error {
	ev, err := domain.NewEvent(patientID, uuid.New().String(), domain.ConflictResolved{
		BaseVersion:  baseVersion,
		MergedModels: mergedModels,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = m.events.Append(ctx, patientID, ev)
	return err
}

// merge combines the stored state with a losing candidate. The result
// carries the stored version plus one. Features are superseded whole by the
// newest observation; predictions merge per model. The merge is insensitive
// to which side is which beyond tie-breaks, so repeated retries converge.
func merge(stored, candidate domain.PatientState) (domain.PatientState, []string) {
	out := stored.Clone()
	out.Version = stored.Version + 1
	out.UpdatedAt = time.Now().UTC()

	if candidate.Features.ObservedAt.After(stored.Features.ObservedAt) {
		out.Features = candidate.Features
	}
	if candidate.LastSequence > stored.LastSequence {
		out.LastSequence = candidate.LastSequence
		out.LastEventID = candidate.LastEventID
	}

	if out.Predictions == nil {
		out.Predictions = make(map[string]domain.PredictionResult)
	}
	merged := make([]string, 0, len(candidate.Predictions))
	for model, incoming := range candidate.Predictions {
		incumbent, ok := out.Predictions[model]
		if !ok || supersedes(incoming, incumbent) {
			out.Predictions[model] = incoming
			merged = append(merged, model)
		}
	}
	sort.Strings(merged)
	return out, merged
}

// supersedes decides whether an incoming prediction replaces the incumbent
// for the same model: later produced_at wins; on a tie a live result beats a
// degraded one; a full tie keeps the incumbent.
func supersedes(incoming, incumbent domain.PredictionResult) bool {
	if incoming.ProducedAt.After(incumbent.ProducedAt) {
		return true
	}
	if incumbent.ProducedAt.After(incoming.ProducedAt) {
		return false
	}
	return incumbent.Degraded && !incoming.Degraded
}

// Replay deterministically rebuilds a twin state from the event log alone:
// predictions and overrides folded in recorded order, features recomputed by
// the deriver as of the last recorded event. Version is a property of the
// snapshot write history, not of the log, so a replayed state carries
// version zero.
func (m *Manager) Replay(ctx context.Context, patientID string) (domain.PatientState, error) {
	events, err := m.events.ReadSince(ctx, patientID, 0)
	if err != nil {
		return domain.PatientState{}, err
	}

	state := domain.PatientState{
		PatientID:   patientID,
		Predictions: make(map[string]domain.PredictionResult),
	}
	if len(events) == 0 {
		return state, nil
	}

	for _, ev := range events {
		foldEvent(&state, ev)
	}

	last := events[len(events)-1]
	state.LastEventID = last.EventID
	state.LastSequence = last.Sequence
	state.UpdatedAt = last.RecordedAt
	state.Features = m.deriver.Aggregate(events, last.RecordedAt)
	return state, nil
}

// foldEvent applies one event to the accumulating state. Measurement events
// contribute through the feature deriver, not here.
func foldEvent(state *domain.PatientState, ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.PredictionReceived:
		incumbent, ok := state.Predictions[p.Result.ModelName]
		if !ok || supersedes(p.Result, incumbent) {
			state.Predictions[p.Result.ModelName] = p.Result
		}
	case domain.ManualOverride:
		model, ok := overrideModel(p.Field)
		if !ok {
			return
		}
		value, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return
		}
		state.Predictions[model] = domain.PredictionResult{
			ModelName:    model,
			Value:        value,
			Confidence:   1.0,
			ProducedAt:   ev.OccurredAt,
			ModelVersion: "manual",
		}
	}
}

// overrideModel parses the "prediction:<model>" override target.
func overrideModel(field string) (string, bool) {
	const prefix = "prediction:"
	if !strings.HasPrefix(field, prefix) || len(field) == len(prefix) {
		return "", false
	}
	return field[len(prefix):], true
}
