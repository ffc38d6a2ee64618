package store

import (
	"context"
	"fmt"

	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
	"github.com/roach88/indexsync/internal/querysql"
)

// LoadIDPage returns up to limit identifiers of an entity type whose ordering
// key is strictly greater than after (or from the start if after is nil),
// ascending by the ordering key. limit <= 0 loads every row.
//
// Returns an empty slice (not nil) if no rows qualify.
func (s *Store) LoadIDPage(
	ctx context.Context,
	et metadata.EntityType,
	orderingKey string,
	after *string,
	limit int,
) ([]model.IDValue, error) {
	query, params, err := s.compiler.Compile(querysql.Page{
		Table:      et.Table,
		KeyColumns: et.KeyColumns,
		OrderBy:    orderingKey,
		After:      after,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load id page %s: %w", et.EntityName, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("load id page %s: %w", et.EntityName, err)
	}
	defer rows.Close()

	width := len(et.KeyColumns) + 1
	page := []model.IDValue{}
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan id page %s: %w", et.EntityName, err)
		}

		id, err := model.EncodeKey(et.KeyColumns, values[:width-1])
		if err != nil {
			return nil, fmt.Errorf("scan id page %s: %w", et.EntityName, err)
		}
		page = append(page, model.IDValue{
			ID:            id,
			OrderingValue: model.FormatValue(values[width-1]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate id page %s: %w", et.EntityName, err)
	}
	return page, nil
}

// LoadRecord returns the columns of one record by its serialized identifier.
// Returns (nil, false, nil) if the record does not exist.
// BLOB/TEXT columns are returned as strings.
func (s *Store) LoadRecord(ctx context.Context, et metadata.EntityType, id string) (map[string]any, bool, error) {
	keyValues, err := model.DecodeKey(et.KeyColumns, id)
	if err != nil {
		return nil, false, fmt.Errorf("load record %s/%s: %w", et.EntityName, id, err)
	}

	query, params, err := s.compiler.Compile(querysql.Lookup{
		Table:      et.Table,
		KeyColumns: et.KeyColumns,
		KeyValues:  keyValues,
	})
	if err != nil {
		return nil, false, fmt.Errorf("load record %s/%s: %w", et.EntityName, id, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, false, fmt.Errorf("load record %s/%s: %w", et.EntityName, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("load record %s/%s: %w", et.EntityName, id, err)
		}
		return nil, false, nil
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, fmt.Errorf("load record %s/%s: columns: %w", et.EntityName, id, err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("scan record %s/%s: %w", et.EntityName, id, err)
	}

	record := make(map[string]any, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
			continue
		}
		record[col] = values[i]
	}
	return record, true, nil
}
