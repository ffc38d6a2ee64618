package engine

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/lock"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
	"github.com/roach88/indexsync/internal/store"
	"github.com/roach88/indexsync/internal/testutil"
)

var (
	customerType = metadata.EntityType{
		EntityName: "Customer",
		Table:      "customers",
		KeyColumns: []string{"id"},
		Indexed:    true,
	}
	lineType = metadata.EntityType{
		EntityName: "OrderLine",
		Table:      "order_lines",
		KeyColumns: []string{"order_id", "line_no"},
		UUIDColumn: "uuid",
		Indexed:    true,
	}
	auditType = metadata.EntityType{
		EntityName: "AuditLog",
		Table:      "audit_log",
		KeyColumns: []string{"id"},
		Indexed:    false,
	}
	// composite key without a surrogate: no usable ordering key
	pairType = metadata.EntityType{
		EntityName: "Pair",
		Table:      "pairs",
		KeyColumns: []string{"left_id", "right_id"},
		Indexed:    true,
	}
)

// harness wires the engine to a temp-dir store, an in-process lock registry
// and a recording index writer.
type harness struct {
	store    *store.Store
	locks    *lock.Registry
	writer   *testutil.RecordingWriter
	clock    *testutil.DeterministicClock
	sessions *SessionManager
	queue    *QueueManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE order_lines (
			order_id INTEGER NOT NULL,
			line_no  INTEGER NOT NULL,
			uuid     TEXT NOT NULL UNIQUE,
			PRIMARY KEY (order_id, line_no)
		)`,
		`CREATE TABLE audit_log (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE pairs (left_id INTEGER, right_id INTEGER, PRIMARY KEY (left_id, right_id))`,
	} {
		_, err := s.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	h := &harness{
		store:  s,
		locks:  lock.NewRegistry(),
		writer: testutil.NewRecordingWriter(),
		clock:  testutil.NewDeterministicClock(),
	}
	types := metadata.MustRegistry(customerType, lineType, auditType, pairType)
	h.sessions = NewSessionManager(s, NewIDLoader(s), types, h.locks,
		WithClock(h.clock),
		WithLockTimeout(20*time.Millisecond),
	)
	h.queue = NewQueueManager(s, h.sessions, h.writer, WithSessionPageSize(2), WithBatchSize(4))
	return h
}

// addCustomers inserts customers with ids 1..n.
func (h *harness) addCustomers(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := h.store.Exec(context.Background(), `INSERT INTO customers (id, name) VALUES (?, ?)`, i, "c")
		require.NoError(t, err)
	}
}

func (h *harness) session(t *testing.T, name string) *model.Session {
	t.Helper()
	sess, err := h.sessions.Session(context.Background(), name)
	require.NoError(t, err)
	return sess
}

func (h *harness) queued(t *testing.T, name string, op model.Operation) int {
	t.Helper()
	n, err := h.store.CountQueue(context.Background(), name, op)
	require.NoError(t, err)
	return n
}

// customer is a record instance handed to direct enqueue.
type customer struct{ id int }

func (c customer) EntityName() string { return "Customer" }
func (c customer) EntityID() string   { return strconv.Itoa(c.id) }

type auditEntry struct{ id int }

func (a auditEntry) EntityName() string { return "AuditLog" }
func (a auditEntry) EntityID() string   { return strconv.Itoa(a.id) }
