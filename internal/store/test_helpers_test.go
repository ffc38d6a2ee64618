package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/indexsync/internal/metadata"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns a fixed UTC timestamp offset by n seconds.
func testTime(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, n, 0, time.UTC)
}

// customerType is a single-key entity type backed by the customers table.
var customerType = metadata.EntityType{
	EntityName: "Customer",
	Table:      "customers",
	KeyColumns: []string{"id"},
	Indexed:    true,
}

// lineType is a composite-key entity type with a surrogate uuid column.
var lineType = metadata.EntityType{
	EntityName: "OrderLine",
	Table:      "order_lines",
	KeyColumns: []string{"order_id", "line_no"},
	UUIDColumn: "uuid",
	Indexed:    true,
}

// createRecordTables creates the record tables used by records tests.
func createRecordTables(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE order_lines (
			order_id INTEGER NOT NULL,
			line_no  INTEGER NOT NULL,
			uuid     TEXT NOT NULL UNIQUE,
			sku      TEXT,
			PRIMARY KEY (order_id, line_no)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.Exec(ctx, stmt); err != nil {
			t.Fatalf("create record table: %v", err)
		}
	}
}

// insertCustomers inserts customers with ids 1..n.
func insertCustomers(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if _, err := s.Exec(context.Background(),
			`INSERT INTO customers (id, name) VALUES (?, ?)`, i, "customer"); err != nil {
			t.Fatalf("insert customer %d: %v", i, err)
		}
	}
}
