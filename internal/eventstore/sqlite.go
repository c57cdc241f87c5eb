package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/digital-twin-engine/internal/domain"
)

// SQLiteStore implements domain.EventStore on a local SQLite file. Suited to
// single-node deployments; Postgres covers the rest.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	locks  patientLocks
}

// NewSQLiteStore opens (or creates) the database file and schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createEventSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createEventSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS twin_events (
			patient_id  TEXT    NOT NULL,
			sequence    INTEGER NOT NULL,
			event_id    TEXT    NOT NULL UNIQUE,
			event_type  TEXT    NOT NULL,
			payload     TEXT    NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (patient_id, sequence)
		);
		CREATE INDEX IF NOT EXISTS idx_twin_events_event_id ON twin_events(event_id);
	`)
	return err
}

// Append inserts the event inside a transaction, serialized per patient by
// an in-process lock on top of SQLite's writer lock.
func (s *SQLiteStore) Append(ctx context.Context, patientID string, event domain.Event) (domain.Event, error) {
	if patientID == "" || event.EventID == "" {
		return domain.Event{}, &domain.ValidationError{Field: "event_id", Message: "patient id and event id are required"}
	}

	unlock := s.locks.lock(patientID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	if existing, found, err := scanEventByID(ctx, tx, event.EventID); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	} else if found {
		return existing, nil
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM twin_events WHERE patient_id = ?`, patientID,
	).Scan(&maxSeq); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}

	payload, err := domain.MarshalPayload(event.Payload)
	if err != nil {
		return domain.Event{}, err
	}

	stored := event
	stored.PatientID = patientID
	stored.Sequence = maxSeq + 1
	stored.RecordedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO twin_events (patient_id, sequence, event_id, event_type, payload, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.PatientID, stored.Sequence, stored.EventID, string(stored.Type),
		string(payload), stored.OccurredAt.UTC(), stored.RecordedAt,
	); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}
	return stored, nil
}

// ReadSince returns events after the given sequence in sequence order.
func (s *SQLiteStore) ReadSince(ctx context.Context, patientID string, afterSequence int64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, sequence, event_id, event_type, payload, occurred_at, recorded_at
		FROM twin_events
		WHERE patient_id = ? AND sequence > ?
		ORDER BY sequence ASC`,
		patientID, afterSequence,
	)
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "read", Err: err}
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, &domain.StoreUnavailableError{Op: "read", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreUnavailableError{Op: "read", Err: err}
	}
	return events, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// scanner is an interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(sc scanner) (domain.Event, error) {
	var (
		ev          domain.Event
		eventType   string
		payloadText string
	)
	if err := sc.Scan(&ev.PatientID, &ev.Sequence, &ev.EventID, &eventType, &payloadText, &ev.OccurredAt, &ev.RecordedAt); err != nil {
		return domain.Event{}, err
	}
	ev.Type = domain.EventType(eventType)
	payload, err := domain.UnmarshalPayload(ev.Type, []byte(payloadText))
	if err != nil {
		return domain.Event{}, err
	}
	ev.Payload = payload
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.RecordedAt = ev.RecordedAt.UTC()
	return ev, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanEventByID(ctx context.Context, q queryRower, eventID string) (domain.Event, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT patient_id, sequence, event_id, event_type, payload, occurred_at, recorded_at
		FROM twin_events WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, err
	}
	return ev, true, nil
}

// patientLocks hands out one mutex per patient id.
type patientLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *patientLocks) lock(patientID string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	m, ok := p.locks[patientID]
	if !ok {
		m = &sync.Mutex{}
		p.locks[patientID] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}
