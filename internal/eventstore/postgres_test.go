package eventstore

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/domain"
)

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	_, err = db.Exec("DROP TABLE IF EXISTS twin_events")
	require.NoError(t, err)

	return db
}

func TestPostgresStore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	storeUnderTest(t, "postgres", func(t *testing.T) domain.EventStore {
		_, err := db.Exec("TRUNCATE twin_events")
		if err != nil {
			// first run creates the table
			store, serr := NewPostgresStore(db)
			require.NoError(t, serr)
			return store
		}
		store, err := NewPostgresStore(db)
		require.NoError(t, err)
		return store
	})
}
