package model

import (
	"fmt"
	"time"
)

// SessionAction is the lifecycle flag of an enqueueing session.
type SessionAction string

const (
	// ActionExecute marks a session that is processed by the session loop.
	ActionExecute SessionAction = "EXECUTE"
	// ActionSuspended marks a paused session. Processing skips it without
	// touching the cursor.
	ActionSuspended SessionAction = "SUSPENDED"
	// ActionStopped is a deletion request honored on the next processing attempt.
	ActionStopped SessionAction = "STOPPED"
)

// Valid reports whether a is one of the known actions.
func (a SessionAction) Valid() bool {
	switch a {
	case ActionExecute, ActionSuspended, ActionStopped:
		return true
	}
	return false
}

// ParseSessionAction converts a stored action string.
func ParseSessionAction(s string) (SessionAction, error) {
	a := SessionAction(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown session action %q", s)
	}
	return a, nil
}

// Operation is the kind of index mutation a queue entry requests.
type Operation string

const (
	// OpIndex stores (or re-stores) the record's document in the index.
	OpIndex Operation = "INDEX"
	// OpDelete removes the record's document from the index.
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	return op == OpIndex || op == OpDelete
}

// ParseOperation converts a stored operation string.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Session is the persisted bulk-scan progress for one entity type.
// There is at most one session per EntityName.
type Session struct {
	EntityName         string        `json:"entity_name"`
	Action             SessionAction `json:"action"`
	OrderingKey        string        `json:"ordering_key"`
	LastProcessedValue *string       `json:"last_processed_value"` // nil = scan not started
	CreatedAt          time.Time     `json:"created_at"`
}

// Started reports whether at least one page has been committed.
func (s Session) Started() bool {
	return s.LastProcessedValue != nil
}

// QueueEntry is a pending index mutation for one record.
type QueueEntry struct {
	ID         int64     `json:"id"` // Store sequence (auto-increment)
	EntityName string    `json:"entity_name"`
	EntityID   string    `json:"entity_id"`
	Operation  Operation `json:"operation"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts,omitempty"` // Failed drains so far
}

// IDValue is one row of an ordered identifier page: the serialized entity
// identifier and the serialized value of the ordering key for that row.
type IDValue struct {
	ID            string `json:"id"`
	OrderingValue string `json:"ordering_value"`
}
