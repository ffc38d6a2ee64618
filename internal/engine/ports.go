package engine

import (
	"context"
	"time"

	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
)

// SessionStore persists enqueueing sessions. Implemented by store.Store.
type SessionStore interface {
	SaveSession(ctx context.Context, sess model.Session) error
	LoadSession(ctx context.Context, entityName string) (*model.Session, error)
	NextSession(ctx context.Context) (*model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	DeleteSession(ctx context.Context, entityName string) (bool, error)

	// CommitPage appends one INDEX entry per id and either advances the
	// session cursor or deletes the session, in one transaction.
	CommitPage(ctx context.Context, entityName string, ids []string, cursor string, exhausted bool, at time.Time) error
}

// QueueStore persists the mutation queue. Implemented by store.Store.
type QueueStore interface {
	Enqueue(ctx context.Context, refs []model.EntityRef, op model.Operation, at time.Time) (int, error)
	PeekReady(ctx context.Context, limit int, now time.Time) ([]model.QueueEntry, error)
	DeleteEntries(ctx context.Context, ids []int64) (int, error)
	DeferEntries(ctx context.Context, ids []int64, until time.Time) (int, error)
	PurgeQueue(ctx context.Context) (int, error)
	PurgeQueueFor(ctx context.Context, entityName string) (int, error)
	CountQueue(ctx context.Context, entityName string, op model.Operation) (int, error)
}

// RecordSource reads ordered identifier pages. Implemented by store.Store.
type RecordSource interface {
	LoadIDPage(ctx context.Context, et metadata.EntityType, orderingKey string, after *string, limit int) ([]model.IDValue, error)
}
