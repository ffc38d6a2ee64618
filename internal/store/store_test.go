package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.False(t, os.IsNotExist(err), "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"enqueueing_sessions", "indexing_queue", "locks"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func pragma(t *testing.T, s *Store, name string) string {
	t.Helper()
	var v string
	require.NoError(t, s.db.QueryRow("PRAGMA "+name).Scan(&v))
	return v
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.Equal(t, "wal", pragma(t, s, "journal_mode"))
	assert.Equal(t, "5000", pragma(t, s, "busy_timeout"))
	assert.Equal(t, "1", pragma(t, s, "synchronous"), "NORMAL")

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SchemaVersion, v)
}

// writeV1Database creates a database as the first schema version left it.
func writeV1Database(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE indexing_queue (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_name TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			operation   TEXT NOT NULL CHECK (operation IN ('INDEX', 'DELETE')),
			enqueued_at INTEGER NOT NULL
		)`,
		`INSERT INTO indexing_queue (entity_name, entity_id, operation, enqueued_at)
		 VALUES ('Customer', '1', 'INDEX', 0), ('Customer', '2', 'DELETE', 0)`,
		`PRAGMA user_version = 1`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestOpen_UpgradesV1Queue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	writeV1Database(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaVersion, v)

	entries, err := s.PeekReady(ctx, 10, testTime(0))
	require.NoError(t, err)
	require.Len(t, entries, 2, "pending entries survive the upgrade")
	assert.Equal(t, "1", entries[0].EntityID)
	assert.Zero(t, entries[0].Attempts)

	n, err := s.DeferEntries(ctx, []int64{entries[0].ID}, testTime(5))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Reopening an upgraded database is a no-op
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	count, err := s.CountQueue(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	_ = s.Close() // must not panic
}
