package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/digital-twin-engine/internal/domain"
)

// PostgresStore implements domain.EventStore on PostgreSQL. Per-patient
// serialization uses a transaction-scoped advisory lock so concurrent
// appends for one patient are observably ordered while unrelated patients
// proceed in parallel.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection. The schema is created if
// missing.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS twin_events (
			patient_id  TEXT        NOT NULL,
			sequence    BIGINT      NOT NULL,
			event_id    TEXT        NOT NULL UNIQUE,
			event_type  TEXT        NOT NULL,
			payload     JSONB       NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (patient_id, sequence)
		)`); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a pooled connection from a URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Append inserts the event under a per-patient advisory lock, idempotent on
// event_id.
func (s *PostgresStore) Append(ctx context.Context, patientID string, event domain.Event) (domain.Event, error) {
	if patientID == "" || event.EventID == "" {
		return domain.Event{}, &domain.ValidationError{Field: "event_id", Message: "patient id and event id are required"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, patientID); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	}

	if existing, found, err := s.getByID(ctx, tx, event.EventID); err != nil {
		return domain.Event{}, &domain.StoreUnavailableError{Op: "append", Err: err}
	} else if found {
		return existing, nil
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM twin_events WHERE patient_id = $1`, patientID,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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
func (s *PostgresStore) ReadSince(ctx context.Context, patientID string, afterSequence int64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, sequence, event_id, event_type, payload, occurred_at, recorded_at
		FROM twin_events
		WHERE patient_id = $1 AND sequence > $2
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

func (s *PostgresStore) getByID(ctx context.Context, q queryRower, eventID string) (domain.Event, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT patient_id, sequence, event_id, event_type, payload, occurred_at, recorded_at
		FROM twin_events WHERE event_id = $1`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, err
	}
	return ev, true, nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error { return s.db.Close() }
