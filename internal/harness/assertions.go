package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/indexsync/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s %v\n", ev.Seq, ev.Type, ev.Op, ev.Entity, ev.IDs)
	}
	return buf.String()
}

// writeGroup names a write as "OP Entity".
func writeGroup(ev TraceEvent) string {
	return ev.Op + " " + ev.Entity
}

// assertWriteContains checks that every id was applied for op and entity,
// across any number of writer calls.
func assertWriteContains(trace []TraceEvent, assertion Assertion) error {
	var applied []string
	for _, ev := range trace {
		if ev.Type == EventWrite && ev.Op == assertion.Op && ev.Entity == assertion.Entity {
			applied = append(applied, ev.IDs...)
		}
	}

	var missing []string
	for _, id := range assertion.IDs {
		if !slices.Contains(applied, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertWriteContains,
		Expected: fmt.Sprintf("%s %s with ids %v", assertion.Op, assertion.Entity, assertion.IDs),
		Actual:   fmt.Sprintf("applied %v, missing %v", applied, missing),
		Trace:    trace,
	}
}

// assertWriteOrder checks that the write groups appear in the given order.
// Other writes may appear in between.
func assertWriteOrder(trace []TraceEvent, assertion Assertion) error {
	var seen []string
	next := 0
	for _, ev := range trace {
		if ev.Type != EventWrite {
			continue
		}
		seen = append(seen, writeGroup(ev))
		if next < len(assertion.Writes) && writeGroup(ev) == assertion.Writes[next] {
			next++
		}
	}
	if next == len(assertion.Writes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertWriteOrder,
		Expected: fmt.Sprintf("writes in order %v", assertion.Writes),
		Actual:   fmt.Sprintf("writes %v (matched %d of %d)", seen, next, len(assertion.Writes)),
		Trace:    trace,
	}
}

// assertWriteCount checks the number of writer calls for op and entity.
func assertWriteCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventWrite && ev.Op == assertion.Op && ev.Entity == assertion.Entity {
			count++
		}
	}
	if count == *assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertWriteCount,
		Expected: fmt.Sprintf("%s %s written %d times", assertion.Op, assertion.Entity, *assertion.Count),
		Actual:   fmt.Sprintf("written %d times", count),
		Trace:    trace,
	}
}

// assertFinalState queries the first row of a table matching where and
// checks the expected columns (subset match).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("final_state: invalid table name %q", assertion.Table)
	}
	whereSQL, args, err := buildWhereClause(assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	row, err := st.FirstRow(ctx, assertion.Table, whereSQL, args...)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	if row == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "no matching row",
		}
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := assertion.Expect[key]
		actual, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %s in %s", key, assertion.Table),
				Actual:   "column not found",
			}
		}
		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v (%T)", assertion.Table, key, expected, expected),
				Actual:   fmt.Sprintf("%v (%T)", actual, actual),
			}
		}
	}
	return nil
}

// assertRowCount counts the rows of a table matching where.
func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("row_count: invalid table name %q", assertion.Table)
	}
	whereSQL, args, err := buildWhereClause(assertion.Where)
	if err != nil {
		return fmt.Errorf("row_count: %w", err)
	}

	count, err := st.CountRows(ctx, assertion.Table, whereSQL, args...)
	if err != nil {
		return fmt.Errorf("row_count: %w", err)
	}
	if count == *assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRowCount,
		Expected: fmt.Sprintf("%d rows in %s where %s", *assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
		Actual:   fmt.Sprintf("%d rows", count),
	}
}

// buildWhereClause builds a parameterized WHERE clause from a map.
// Keys are sorted for deterministic query generation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL parameter.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case nil, string, int, int64, bool, float64:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected YAML values with SQLite column values.
// SQLite returns int64 for integers and stores booleans as 0/1.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		actualStr, ok := actual.(string)
		return ok && exp == actualStr
	case int:
		actualInt, ok := actual.(int64)
		return ok && int64(exp) == actualInt
	case int64:
		actualInt, ok := actual.(int64)
		return ok && exp == actualInt
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		actualInt, ok := actual.(int64)
		return ok && exp == (actualInt != 0)
	}
	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertWriteContains:
			err = assertWriteContains(result.Trace, assertion)
		case AssertWriteOrder:
			err = assertWriteOrder(result.Trace, assertion)
		case AssertWriteCount:
			err = assertWriteCount(result.Trace, assertion)
		case AssertFinalState, AssertRowCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("%s assertion requires a store", assertion.Type)
				break
			}
			ctx := actx.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			if assertion.Type == AssertFinalState {
				err = assertFinalState(ctx, actx.Store, assertion)
			} else {
				err = assertRowCount(ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d] (%s): %v", i, assertion.Type, err))
		}
	}
	return errs
}
