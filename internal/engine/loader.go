package engine

import (
	"context"
	"fmt"

	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
)

// IDLoader reads identifiers of an entity type in ascending ordering-key
// order. It never loads whole records.
type IDLoader struct {
	source RecordSource
}

// NewIDLoader creates a loader over source.
func NewIDLoader(source RecordSource) *IDLoader {
	return &IDLoader{source: source}
}

// LoadPage returns at most n identifiers whose ordering value is strictly
// greater than after (from the start if after is nil), ascending.
func (l *IDLoader) LoadPage(
	ctx context.Context,
	et metadata.EntityType,
	orderingKey string,
	after *string,
	n int,
) ([]model.IDValue, error) {
	if n <= 0 {
		return nil, fmt.Errorf("load page %s: %w", et.EntityName, ErrInvalidPageSize)
	}
	return l.source.LoadIDPage(ctx, et, orderingKey, after, n)
}

// LoadAll returns every identifier of the type in one read.
// Memory use grows with the table; use sessions for large tables.
func (l *IDLoader) LoadAll(ctx context.Context, et metadata.EntityType) ([]string, error) {
	key, err := metadata.ResolveOrderingKey(et)
	if err != nil {
		return nil, err
	}
	page, err := l.source.LoadIDPage(ctx, et, key, nil, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(page))
	for i, v := range page {
		ids[i] = v.ID
	}
	return ids, nil
}
