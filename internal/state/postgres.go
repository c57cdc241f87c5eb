package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/digital-twin-engine/internal/domain"
)

// PostgresSnapshots implements domain.SnapshotStore on PostgreSQL. The
// compare-and-swap uses the row version directly: version 1 is a guarded
// insert, later versions a guarded update. Either affecting zero rows means
// another writer won the race.
type PostgresSnapshots struct {
	db *sql.DB
}

// NewPostgresSnapshots wraps an existing connection. The schema is created
// if missing.
func NewPostgresSnapshots(db *sql.DB) (*PostgresSnapshots, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS twin_states (
			patient_id    TEXT        NOT NULL PRIMARY KEY,
			version       BIGINT      NOT NULL,
			features      JSONB       NOT NULL,
			predictions   JSONB       NOT NULL,
			last_event_id TEXT        NOT NULL,
			last_sequence BIGINT      NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresSnapshots{db: db}, nil
}

// Load returns the stored state for a patient, reporting whether one exists.
func (s *PostgresSnapshots) Load(ctx context.Context, patientID string) (domain.PatientState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, features, predictions, last_event_id, last_sequence, updated_at
		FROM twin_states WHERE patient_id = $1`, patientID)

	var (
		state           domain.PatientState
		features, preds []byte
	)
	state.PatientID = patientID
	err := row.Scan(&state.Version, &features, &preds, &state.LastEventID, &state.LastSequence, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.PatientState{}, false, nil
	}
	if err != nil {
		return domain.PatientState{}, false, &domain.StoreUnavailableError{Op: "load snapshot", Err: err}
	}
	if err := json.Unmarshal(features, &state.Features); err != nil {
		return domain.PatientState{}, false, fmt.Errorf("decoding feature snapshot: %w", err)
	}
	if err := json.Unmarshal(preds, &state.Predictions); err != nil {
		return domain.PatientState{}, false, fmt.Errorf("decoding prediction snapshot: %w", err)
	}
	return state, true, nil
}

// Save stores a state whose version is exactly one past the stored version.
func (s *PostgresSnapshots) Save(ctx context.Context, state domain.PatientState) error {
	features, err := json.Marshal(state.Features)
	if err != nil {
		return fmt.Errorf("encoding feature snapshot: %w", err)
	}
	preds, err := json.Marshal(state.Predictions)
	if err != nil {
		return fmt.Errorf("encoding prediction snapshot: %w", err)
	}

	var res sql.Result
	if state.Version == 1 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO twin_states (patient_id, version, features, predictions, last_event_id, last_sequence, updated_at)
			VALUES ($1, 1, $2, $3, $4, $5, $6)
			ON CONFLICT (patient_id) DO NOTHING`,
			state.PatientID, features, preds, state.LastEventID, state.LastSequence, state.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE twin_states
			SET version = $2, features = $3, predictions = $4, last_event_id = $5, last_sequence = $6, updated_at = $7
			WHERE patient_id = $1 AND version = $2 - 1`,
			state.PatientID, state.Version, features, preds, state.LastEventID, state.LastSequence, state.UpdatedAt)
	}
	if err != nil {
		return &domain.StoreUnavailableError{Op: "save snapshot", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &domain.StoreUnavailableError{Op: "save snapshot", Err: err}
	}
	if affected == 0 {
		actual, err := s.storedVersion(ctx, state.PatientID)
		if err != nil {
			return err
		}
		return &domain.VersionConflictError{
			PatientID: state.PatientID,
			Expected:  state.Version - 1,
			Actual:    actual,
		}
	}
	return nil
}

func (s *PostgresSnapshots) storedVersion(ctx context.Context, patientID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM twin_states WHERE patient_id = $1`, patientID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &domain.StoreUnavailableError{Op: "read snapshot version", Err: err}
	}
	return version, nil
}
