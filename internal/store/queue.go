package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/indexsync/internal/model"
)

// deleteChunk bounds the number of id parameters per statement, well below
// SQLITE_MAX_VARIABLE_NUMBER.
const deleteChunk = 500

// Enqueue appends one queue entry per ref with the given operation.
// All entries are written in a single transaction.
// Returns the number of entries appended.
func (s *Store) Enqueue(ctx context.Context, refs []model.EntityRef, op model.Operation, at time.Time) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue: begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := insertEntries(ctx, tx, refs, op, at)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue: commit: %w", err)
	}
	return n, nil
}

// insertEntries appends queue entries inside an existing transaction.
func insertEntries(ctx context.Context, tx *sql.Tx, refs []model.EntityRef, op model.Operation, at time.Time) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	if !op.Valid() {
		return 0, fmt.Errorf("insert entries: invalid operation %q", op)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indexing_queue (entity_name, entity_id, operation, enqueued_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("insert entries: prepare: %w", err)
	}
	defer stmt.Close()

	ts := toUnixNano(at)
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref.EntityName, ref.ID, string(op), ts); err != nil {
			return 0, fmt.Errorf("insert entry %s: %w", ref, err)
		}
	}
	return len(refs), nil
}

// PeekBatch returns up to limit of the oldest queue entries without removing
// them, deferred or not. Results are ordered by id ASC.
// Returns an empty slice (not nil) if the queue is empty.
func (s *Store) PeekBatch(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	if limit <= 0 {
		return []model.QueueEntry{}, nil
	}
	return s.queryEntries(ctx, `
		SELECT id, entity_name, entity_id, operation, enqueued_at, attempts
		FROM indexing_queue
		ORDER BY id ASC
		LIMIT ?
	`, limit)
}

// PeekReady is PeekBatch restricted to entries whose retry delay has
// elapsed at now.
func (s *Store) PeekReady(ctx context.Context, limit int, now time.Time) ([]model.QueueEntry, error) {
	if limit <= 0 {
		return []model.QueueEntry{}, nil
	}
	return s.queryEntries(ctx, `
		SELECT id, entity_name, entity_id, operation, enqueued_at, attempts
		FROM indexing_queue
		WHERE not_before <= ?
		ORDER BY id ASC
		LIMIT ?
	`, toUnixNano(now), limit)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue batch: %w", err)
	}
	defer rows.Close()

	entries := []model.QueueEntry{}
	for rows.Next() {
		var e model.QueueEntry
		var op string
		var enqueuedAt int64
		if err := rows.Scan(&e.ID, &e.EntityName, &e.EntityID, &op, &enqueuedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Operation, err = model.ParseOperation(op)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry %d: %w", e.ID, err)
		}
		e.EnqueuedAt = fromUnixNano(enqueuedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue batch: %w", err)
	}
	return entries, nil
}

// DeleteEntries removes queue entries by id.
// Returns the number of rows actually removed; ids already removed by a
// concurrent drain are not counted.
func (s *Store) DeleteEntries(ctx context.Context, ids []int64) (int, error) {
	n, err := s.execByID(ctx, "DELETE FROM indexing_queue WHERE id IN (%s)", nil, ids)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return n, nil
}

// DeferEntries bumps the attempt count of the given entries and hides them
// from PeekReady until until. Returns the number of rows updated.
func (s *Store) DeferEntries(ctx context.Context, ids []int64, until time.Time) (int, error) {
	n, err := s.execByID(ctx,
		"UPDATE indexing_queue SET attempts = attempts + 1, not_before = ? WHERE id IN (%s)",
		[]any{toUnixNano(until)}, ids)
	if err != nil {
		return 0, fmt.Errorf("defer entries: %w", err)
	}
	return n, nil
}

// execByID runs query once per chunk of ids in one transaction. query has a
// single %s verb for the id placeholders; lead is bound before the ids.
func (s *Store) execByID(ctx context.Context, query string, lead []any, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(lead)+len(chunk))
		args = append(args, lead...)
		for _, id := range chunk {
			args = append(args, id)
		}

		result, err := tx.ExecContext(ctx, fmt.Sprintf(query, placeholders), args...)
		if err != nil {
			return 0, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(total), nil
}

// PurgeQueue removes every queue entry and returns the number removed.
func (s *Store) PurgeQueue(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM indexing_queue`)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge queue: rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeQueueFor removes the queue entries of one entity type and returns the
// number removed.
func (s *Store) PurgeQueueFor(ctx context.Context, entityName string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM indexing_queue WHERE entity_name = ?
	`, entityName)
	if err != nil {
		return 0, fmt.Errorf("purge queue for %s: %w", entityName, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge queue for %s: rows affected: %w", entityName, err)
	}
	return int(n), nil
}

// CountQueue counts queue entries. An empty entityName or operation matches
// any value.
func (s *Store) CountQueue(ctx context.Context, entityName string, op model.Operation) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM indexing_queue
		WHERE (? = '' OR entity_name = ?)
		  AND (? = '' OR operation = ?)
	`, entityName, entityName, string(op), string(op)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}
