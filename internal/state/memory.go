package state

import (
	"context"
	"sync"

	"github.com/digital-twin-engine/internal/domain"
)

// MemorySnapshots is the in-process snapshot store: a guarded map with
// compare-and-swap on version. Suitable for tests and single-node
// deployments where the event log alone provides durability.
type MemorySnapshots struct {
	mu     sync.RWMutex
	states map[string]domain.PatientState
}

// NewMemorySnapshots creates an empty snapshot store.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{states: make(map[string]domain.PatientState)}
}

// Load returns the stored state for a patient, reporting whether one exists.
func (s *MemorySnapshots) Load(ctx context.Context, patientID string) (domain.PatientState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.states[patientID]
	if !ok {
		return domain.PatientState{}, false, nil
	}
	return stored.Clone(), true, nil
}

// Save stores a state whose version is exactly one past the stored version.
// An absent patient has stored version 0.
func (s *MemorySnapshots) Save(ctx context.Context, state domain.PatientState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if stored, ok := s.states[state.PatientID]; ok {
		current = stored.Version
	}
	if state.Version != current+1 {
		return &domain.VersionConflictError{
			PatientID: state.PatientID,
			Expected:  state.Version - 1,
			Actual:    current,
		}
	}
	s.states[state.PatientID] = state.Clone()
	return nil
}
