package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/store"
)

func intPtr(n int) *int { return &n }

func sampleTrace() []TraceEvent {
	n := 3
	return []TraceEvent{
		{Seq: 1, Type: EventStep, Op: OpDrain, Count: &n},
		{Seq: 2, Type: EventWrite, Op: "INDEX", Entity: "Customer", IDs: []string{"1", "2"}},
		{Seq: 3, Type: EventWrite, Op: "INDEX", Entity: "Product", IDs: []string{"7"}},
		{Seq: 4, Type: EventWrite, Op: "DELETE", Entity: "Customer", IDs: []string{"3"}},
		{Seq: 5, Type: EventWrite, Op: "INDEX", Entity: "Customer", IDs: []string{"4"}},
	}
}

func TestAssertWriteContains(t *testing.T) {
	trace := sampleTrace()

	// ids may span several writes
	err := assertWriteContains(trace, Assertion{Op: "INDEX", Entity: "Customer", IDs: []string{"1", "4"}})
	assert.NoError(t, err)

	err = assertWriteContains(trace, Assertion{Op: "INDEX", Entity: "Customer", IDs: []string{"3"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertWriteContains, ae.Type)
	assert.Contains(t, ae.Actual, "missing [3]")
}

func TestAssertWriteOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name   string
		writes []string
		ok     bool
	}{
		{"correct", []string{"INDEX Customer", "DELETE Customer"}, true},
		{"intervening_allowed", []string{"INDEX Customer", "INDEX Customer"}, true},
		{"wrong_order", []string{"DELETE Customer", "INDEX Product"}, false},
		{"missing", []string{"DELETE Product"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertWriteOrder(trace, Assertion{Writes: tt.writes})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertWriteCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertWriteCount(trace, Assertion{Op: "INDEX", Entity: "Customer", Count: intPtr(2)}))
	assert.NoError(t, assertWriteCount(trace, Assertion{Op: "DELETE", Entity: "Product", Count: intPtr(0)}))

	err := assertWriteCount(trace, Assertion{Op: "INDEX", Entity: "Product", Count: intPtr(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "written 1 times")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertWriteCount,
		Expected: "INDEX Customer written 1 times",
		Actual:   "written 0 times",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: write_count")
	assert.Contains(t, msg, "Expected: INDEX Customer written 1 times")
	assert.Contains(t, msg, "Actual: written 0 times")
	assert.Contains(t, msg, "[2] write INDEX Customer [1 2]")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]any{"operation": "INDEX", "entity_name": "Customer", "last_processed_value": nil})
	require.NoError(t, err)
	assert.Equal(t, "entity_name = ? AND last_processed_value IS NULL AND operation = ?", sql)
	assert.Equal(t, []any{"Customer", "INDEX"}, args)

	_, _, err = buildWhereClause(map[string]any{"id; DROP TABLE x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("a", "a"))
	assert.False(t, stateValuesEqual("a", int64(1)))
	assert.True(t, stateValuesEqual(7, int64(7)))
	assert.True(t, stateValuesEqual(int64(7), int64(7)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, "x"))
	assert.False(t, stateValuesEqual("x", nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "assert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	_, err = st.Exec(ctx, `INSERT INTO enqueueing_sessions (entity_name, action, ordering_key, last_processed_value, created_at)
		VALUES ('Customer', 'SUSPENDED', 'id', '42', 1)`)
	require.NoError(t, err)
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name: "row_found",
			assertion: Assertion{Table: "enqueueing_sessions", Where: map[string]any{"entity_name": "Customer"},
				Expect: map[string]any{"action": "SUSPENDED", "last_processed_value": "42", "created_at": 1}},
		},
		{
			name:      "row_not_found",
			assertion: Assertion{Table: "enqueueing_sessions", Where: map[string]any{"entity_name": "Nope"}, Expect: map[string]any{}},
			wantErr:   "no matching row",
		},
		{
			name:      "value_mismatch",
			assertion: Assertion{Table: "enqueueing_sessions", Expect: map[string]any{"action": "EXECUTE"}},
			wantErr:   "enqueueing_sessions.action = EXECUTE",
		},
		{
			name:      "missing_column",
			assertion: Assertion{Table: "enqueueing_sessions", Expect: map[string]any{"cursor": "42"}},
			wantErr:   "column not found",
		},
		{
			name:      "invalid_table",
			assertion: Assertion{Table: "sessions; DROP", Expect: map[string]any{}},
			wantErr:   "invalid table name",
		},
		{
			name:      "table_not_found",
			assertion: Assertion{Table: "missing", Expect: map[string]any{}},
			wantErr:   "no such table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertRowCount(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	assert.NoError(t, assertRowCount(ctx, st, Assertion{Table: "enqueueing_sessions", Count: intPtr(1)}))
	assert.NoError(t, assertRowCount(ctx, st, Assertion{Table: "indexing_queue", Count: intPtr(0)}))

	err := assertRowCount(ctx, st, Assertion{Table: "enqueueing_sessions", Where: map[string]any{"action": "EXECUTE"}, Count: intPtr(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 rows")
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	st := setupTestStore(t)

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertWriteCount, Op: "INDEX", Entity: "Customer", Count: intPtr(2)},
		{Type: AssertRowCount, Table: "enqueueing_sessions", Count: intPtr(5)},
		{Type: "bogus"},
	}, &AssertionContext{Store: st, Ctx: context.Background()})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion[1] (row_count)")
	assert.Contains(t, errs[1], "unknown assertion type: bogus")
}

func TestEvaluateAssertions_StateWithoutStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Table: "enqueueing_sessions", Expect: map[string]any{}},
	}, nil)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a store")
}
