// Package eventstore provides the append-only per-patient event log behind
// the domain.EventStore interface. Three backends share the same semantics:
// an in-memory store, a SQLite store and a PostgreSQL store.
package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/digital-twin-engine/internal/domain"
)

// MemoryStore keeps per-patient logs in process memory. Appends for one
// patient serialize on that patient's lock; different patients never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string]*patientLog
}

type patientLog struct {
	mu     sync.Mutex
	events []domain.Event
	byID   map[string]int
	seq    int64
	lastAt time.Time
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[string]*patientLog)}
}

func (s *MemoryStore) log(patientID string) *patientLog {
	s.mu.RLock()
	pl, ok := s.patients[patientID]
	s.mu.RUnlock()
	if ok {
		return pl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pl, ok = s.patients[patientID]; ok {
		return pl
	}
	pl = &patientLog{byID: make(map[string]int)}
	s.patients[patientID] = pl
	return pl
}

// Append stores the event, assigning Sequence and a RecordedAt that is
// strictly monotonic within the patient. Re-appending a seen EventID returns
// the stored event unchanged.
func (s *MemoryStore) Append(ctx context.Context, patientID string, event domain.Event) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}
	if patientID == "" || event.EventID == "" {
		return domain.Event{}, &domain.ValidationError{Field: "event_id", Message: "patient id and event id are required"}
	}

	pl := s.log(patientID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if idx, ok := pl.byID[event.EventID]; ok {
		return pl.events[idx], nil
	}

	now := time.Now().UTC()
	if !now.After(pl.lastAt) {
		now = pl.lastAt.Add(time.Nanosecond)
	}
	pl.lastAt = now
	pl.seq++

	stored := event
	stored.PatientID = patientID
	stored.Sequence = pl.seq
	stored.RecordedAt = now

	pl.byID[event.EventID] = len(pl.events)
	pl.events = append(pl.events, stored)
	return stored, nil
}

// ReadSince returns events with Sequence greater than afterSequence, in
// Sequence order.
func (s *MemoryStore) ReadSince(ctx context.Context, patientID string, afterSequence int64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StoreUnavailableError{Op: "read", Err: err}
	}

	s.mu.RLock()
	pl, ok := s.patients[patientID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	// Sequences are 1-based and dense, so the offset is direct.
	start := int(afterSequence)
	if start < 0 {
		start = 0
	}
	if start >= len(pl.events) {
		return nil, nil
	}
	out := make([]domain.Event, len(pl.events)-start)
	copy(out, pl.events[start:])
	return out, nil
}
