package store

import (
	"context"
	"fmt"
)

// Read-only row inspection used by scenario tests and tooling. Callers pass
// a validated table name and an optional parameterized WHERE clause.

// FirstRow returns the first row of table matching where as a column map,
// or nil if no row matches. TEXT and BLOB values are returned as strings.
func (s *Store) FirstRow(ctx context.Context, table, where string, args ...any) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, selectFrom("SELECT *", table, where)+" LIMIT 1", args...)
	if err != nil {
		return nil, fmt.Errorf("first row of %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("first row of %s: %w", table, err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("first row of %s: scan: %w", table, err)
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}

// CountRows counts the rows of table matching where.
func (s *Store) CountRows(ctx context.Context, table, where string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, selectFrom("SELECT COUNT(*)", table, where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

func selectFrom(head, table, where string) string {
	q := head + " FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	return q
}
