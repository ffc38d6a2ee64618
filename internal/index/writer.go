package index

import (
	"context"
)

// Writer applies index mutations for one entity type at a time.
//
// Both operations must be idempotent per identifier: the queue delivers
// at least once and may deliver duplicates.
type Writer interface {
	// Index (re)builds the documents of the given records. Records that no
	// longer exist are removed from the index.
	Index(ctx context.Context, entityName string, ids []string) error

	// Delete removes the documents of the given records.
	Delete(ctx context.Context, entityName string, ids []string) error
}
