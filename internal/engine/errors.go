package engine

import "errors"

var (
	// ErrNotIndexed is returned when an operation needs an entity type that
	// is not configured for direct indexing.
	ErrNotIndexed = errors.New("entity type is not indexed")

	// ErrLockLost is returned when a session lock lease was lost while the
	// operation ran. The operation's writes may not have been applied.
	ErrLockLost = errors.New("session lock lost")

	// ErrInvalidPageSize is returned for a non-positive session page size.
	ErrInvalidPageSize = errors.New("page size must be positive")
)
