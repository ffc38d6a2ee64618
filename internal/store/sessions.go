package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/indexsync/internal/model"
)

// SaveSession inserts a session or updates the existing session of the same
// entity type. created_at is only written on insert so a restarted session
// keeps its FIFO position.
func (s *Store) SaveSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enqueueing_sessions
		(entity_name, action, ordering_key, last_processed_value, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_name) DO UPDATE SET
			action = excluded.action,
			ordering_key = excluded.ordering_key,
			last_processed_value = excluded.last_processed_value
	`,
		sess.EntityName,
		string(sess.Action),
		sess.OrderingKey,
		nullString(sess.LastProcessedValue),
		toUnixNano(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.EntityName, err)
	}
	return nil
}

// LoadSession returns the session of an entity type.
// Returns (nil, nil) if the type has no session.
func (s *Store) LoadSession(ctx context.Context, entityName string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_name, action, ordering_key, last_processed_value, created_at
		FROM enqueueing_sessions
		WHERE entity_name = ?
	`, entityName)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", entityName, err)
	}
	return sess, nil
}

// NextSession returns the oldest session regardless of its action.
// Returns (nil, nil) if there are no sessions.
func (s *Store) NextSession(ctx context.Context) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_name, action, ordering_key, last_processed_value, created_at
		FROM enqueueing_sessions
		ORDER BY created_at ASC, entity_name COLLATE BINARY ASC
		LIMIT 1
	`)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions in FIFO order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_name, action, ordering_key, last_processed_value, created_at
		FROM enqueueing_sessions
		ORDER BY created_at ASC, entity_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the session of an entity type.
// Returns whether a row was deleted.
func (s *Store) DeleteSession(ctx context.Context, entityName string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM enqueueing_sessions WHERE entity_name = ?
	`, entityName)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", entityName, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session %s: rows affected: %w", entityName, err)
	}
	return n > 0, nil
}

// CommitPage atomically records the result of one session page:
//  1. Appends one INDEX queue entry per id
//  2. Deletes the session if exhausted, otherwise advances its cursor
//
// Either everything is committed or nothing is.
func (s *Store) CommitPage(
	ctx context.Context,
	entityName string,
	ids []string,
	cursor string,
	exhausted bool,
	at time.Time,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit page: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	refs := make([]model.EntityRef, len(ids))
	for i, id := range ids {
		refs[i] = model.EntityRef{EntityName: entityName, ID: id}
	}
	if _, err := insertEntries(ctx, tx, refs, model.OpIndex, at); err != nil {
		return fmt.Errorf("commit page: %w", err)
	}

	if exhausted {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM enqueueing_sessions WHERE entity_name = ?
		`, entityName)
		if err != nil {
			return fmt.Errorf("commit page: delete session: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE enqueueing_sessions
			SET last_processed_value = ?
			WHERE entity_name = ?
		`, cursor, entityName)
		if err != nil {
			return fmt.Errorf("commit page: advance cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit page: commit: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a row into a Session.
func scanSession(r rowScanner) (*model.Session, error) {
	var sess model.Session
	var action string
	var cursor sql.NullString
	var createdAt int64

	if err := r.Scan(&sess.EntityName, &action, &sess.OrderingKey, &cursor, &createdAt); err != nil {
		return nil, err
	}

	a, err := model.ParseSessionAction(action)
	if err != nil {
		return nil, err
	}
	sess.Action = a
	sess.LastProcessedValue = stringPtr(cursor)
	sess.CreatedAt = fromUnixNano(createdAt)
	return &sess, nil
}
