package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/indexsync/internal/model"
	"github.com/roach88/indexsync/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Connection parameters understood by go-sqlite3. Write transactions take
// the database lock up front (_txlock=immediate) so that processes sharing
// the file queue on busy_timeout instead of failing on lock upgrade.
var dsnParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_txlock":       {"immediate"},
}

// migrations upgrade a database one schema version at a time:
// migrations[i] moves version i to i+1. Fresh databases get the full schema
// from schema.sql and every step must be a no-op on them.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	addQueueEntityIndex,  // 1
	addQueueRetryColumns, // 2
}

// Store holds the enqueueing sessions, the indexing queue and the lock
// leases, and reads record tables living in the same database file.
type Store struct {
	db       *sql.DB
	compiler *querysql.SQLCompiler
}

// Open opens (creating if needed) the SQLite database at path and brings
// its schema to model.SchemaVersion. Safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+dsnParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection serializes writers inside the process; other processes
	// are serialized by SQLite's file lock.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db, compiler: querysql.NewSQLCompiler()}, nil
}

// Close closes the database. Closing twice is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Exec runs a statement on the database. Tools and tests use it to manage
// record tables; bookkeeping tables are only written through Store methods.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// SchemaVersion returns the schema version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	if version > model.SchemaVersion {
		return fmt.Errorf("migrate: database schema v%d is newer than v%d", version, model.SchemaVersion)
	}

	// schema.sql only creates what is missing, so it runs before the steps
	// that alter tables an older version created.
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: schema: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if err := migrations[v](ctx, tx); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", model.SchemaVersion)); err != nil {
		return fmt.Errorf("migrate: write version: %w", err)
	}
	return tx.Commit()
}

func addQueueEntityIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_queue_entity
		ON indexing_queue(entity_name, operation)
	`)
	return err
}

// addQueueRetryColumns adds the retry bookkeeping of failed drains.
func addQueueRetryColumns(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "indexing_queue")
	if err != nil {
		return err
	}
	for _, col := range []string{"attempts", "not_before"} {
		if cols[col] {
			continue
		}
		stmt := "ALTER TABLE indexing_queue ADD COLUMN " + col + " INTEGER NOT NULL DEFAULT 0"
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
