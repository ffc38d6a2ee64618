package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/indexsync/internal/index"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/metrics"
	"github.com/roach88/indexsync/internal/model"
)

// Default sizes used when a caller passes n <= 0.
const (
	DefaultSessionPageSize = 1000
	DefaultBatchSize       = 500
)

// Retry delays for entries whose index write failed. The delay doubles with
// each failed attempt up to MaxRetryBackoff.
const (
	DefaultRetryBackoff = 30 * time.Second
	MaxRetryBackoff     = 10 * time.Minute
)

// QueueManager is the entry point for index maintenance: direct enqueue,
// bulk enqueue (eager or session based), queue draining and purging.
//
// Thread-safety: QueueManager is safe for concurrent use. Concurrent drains
// may apply the same entry twice; the count returned by each drain only
// includes entries it removed.
type QueueManager struct {
	queue    QueueStore
	sessions *SessionManager
	loader   *IDLoader
	types    *metadata.Registry
	writer   index.Writer
	clock    Clock

	pageSize  int
	batchSize int
	backoff   time.Duration
}

// QueueOption configures a QueueManager.
type QueueOption func(*QueueManager)

// WithSessionPageSize sets the page size used when a caller passes n <= 0.
func WithSessionPageSize(n int) QueueOption {
	return func(q *QueueManager) {
		if n > 0 {
			q.pageSize = n
		}
	}
}

// WithBatchSize sets the drain batch size used when a caller passes n <= 0.
func WithBatchSize(n int) QueueOption {
	return func(q *QueueManager) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithRetryBackoff sets the delay before a failed entry is retried.
func WithRetryBackoff(d time.Duration) QueueOption {
	return func(q *QueueManager) {
		if d > 0 {
			q.backoff = d
		}
	}
}

// NewQueueManager creates a queue manager. Timestamps come from the session
// manager's clock.
func NewQueueManager(
	queue QueueStore,
	sessions *SessionManager,
	writer index.Writer,
	opts ...QueueOption,
) *QueueManager {
	q := &QueueManager{
		queue:     queue,
		sessions:  sessions,
		loader:    sessions.loader,
		types:     sessions.types,
		writer:    writer,
		clock:     sessions.clock,
		pageSize:  DefaultSessionPageSize,
		batchSize: DefaultBatchSize,
		backoff:   DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// --- Direct enqueue ---

// EnqueueIndex appends an INDEX entry for one record.
func (q *QueueManager) EnqueueIndex(ctx context.Context, e model.Entity) (int, error) {
	return q.enqueue(ctx, []model.EntityRef{model.RefOf(e)}, model.OpIndex, "direct")
}

// EnqueueDelete appends a DELETE entry for one record.
func (q *QueueManager) EnqueueDelete(ctx context.Context, e model.Entity) (int, error) {
	return q.enqueue(ctx, []model.EntityRef{model.RefOf(e)}, model.OpDelete, "direct")
}

// EnqueueIndexCollection appends an INDEX entry per record.
func (q *QueueManager) EnqueueIndexCollection(ctx context.Context, es []model.Entity) (int, error) {
	return q.enqueue(ctx, refsOf(es), model.OpIndex, "direct")
}

// EnqueueDeleteCollection appends a DELETE entry per record.
func (q *QueueManager) EnqueueDeleteCollection(ctx context.Context, es []model.Entity) (int, error) {
	return q.enqueue(ctx, refsOf(es), model.OpDelete, "direct")
}

// EnqueueIndexByID appends an INDEX entry for a record reference.
func (q *QueueManager) EnqueueIndexByID(ctx context.Context, ref model.EntityRef) (int, error) {
	return q.enqueue(ctx, []model.EntityRef{ref}, model.OpIndex, "direct")
}

// EnqueueDeleteByID appends a DELETE entry for a record reference.
func (q *QueueManager) EnqueueDeleteByID(ctx context.Context, ref model.EntityRef) (int, error) {
	return q.enqueue(ctx, []model.EntityRef{ref}, model.OpDelete, "direct")
}

// EnqueueIndexByIDs appends an INDEX entry per reference.
func (q *QueueManager) EnqueueIndexByIDs(ctx context.Context, refs []model.EntityRef) (int, error) {
	return q.enqueue(ctx, refs, model.OpIndex, "direct")
}

// EnqueueDeleteByIDs appends a DELETE entry per reference.
func (q *QueueManager) EnqueueDeleteByIDs(ctx context.Context, refs []model.EntityRef) (int, error) {
	return q.enqueue(ctx, refs, model.OpDelete, "direct")
}

func refsOf(es []model.Entity) []model.EntityRef {
	refs := make([]model.EntityRef, len(es))
	for i, e := range es {
		refs[i] = model.RefOf(e)
	}
	return refs
}

// enqueue appends the refs of indexed types. Refs of other types are
// skipped: write hooks forward every write, indexed or not.
func (q *QueueManager) enqueue(ctx context.Context, refs []model.EntityRef, op model.Operation, source string) (int, error) {
	accepted := make([]model.EntityRef, 0, len(refs))
	for _, ref := range refs {
		if !q.types.IsIndexed(ref.EntityName) {
			slog.Debug("skipping non-indexed entity", "entity", ref.EntityName, "id", ref.ID, "operation", op)
			continue
		}
		accepted = append(accepted, ref)
	}

	n, err := q.queue.Enqueue(ctx, accepted, op, q.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, ref := range accepted {
		metrics.Enqueued.WithLabelValues(ref.EntityName, string(op), source).Inc()
	}
	return n, nil
}

// --- Eager bulk enqueue ---

// EnqueueIndexAll appends an INDEX entry for every record of every indexed
// type. Loads all identifiers of a type at once.
func (q *QueueManager) EnqueueIndexAll(ctx context.Context) (int, error) {
	total := 0
	for _, name := range q.types.IndexedNames() {
		n, err := q.EnqueueIndexAllFor(ctx, name)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// EnqueueIndexAllFor appends an INDEX entry for every record of one type.
func (q *QueueManager) EnqueueIndexAllFor(ctx context.Context, entityName string) (int, error) {
	et, err := q.sessions.indexedType(entityName)
	if err != nil {
		return 0, fmt.Errorf("enqueue all: %w", err)
	}
	ids, err := q.loader.LoadAll(ctx, et)
	if err != nil {
		return 0, fmt.Errorf("enqueue all %s: %w", entityName, err)
	}

	refs := make([]model.EntityRef, len(ids))
	for i, id := range ids {
		refs[i] = model.EntityRef{EntityName: entityName, ID: id}
	}
	n, err := q.enqueue(ctx, refs, model.OpIndex, "all")
	if err != nil {
		return 0, fmt.Errorf("enqueue all %s: %w", entityName, err)
	}
	slog.Info("enqueued all records", "entity", entityName, "count", n)
	return n, nil
}

// --- Session based bulk enqueue ---

// InitAsyncEnqueueIndexAll starts a session for every indexed type that has
// none. Returns the number of types whose lock was acquired.
func (q *QueueManager) InitAsyncEnqueueIndexAll(ctx context.Context) (int, error) {
	n := 0
	for _, name := range q.types.IndexedNames() {
		ok, err := q.sessions.Init(ctx, name, false)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// InitAsyncEnqueueIndexAllFor starts (or with restart, rewinds) the session
// of one type. See SessionManager.Init.
func (q *QueueManager) InitAsyncEnqueueIndexAllFor(ctx context.Context, entityName string, restart bool) (bool, error) {
	return q.sessions.Init(ctx, entityName, restart)
}

// SuspendAsyncEnqueueIndexAll pauses the session of one type.
func (q *QueueManager) SuspendAsyncEnqueueIndexAll(ctx context.Context, entityName string) (bool, error) {
	return q.sessions.Suspend(ctx, entityName)
}

// ResumeAsyncEnqueueIndexAll resumes the session of one type.
func (q *QueueManager) ResumeAsyncEnqueueIndexAll(ctx context.Context, entityName string) (bool, error) {
	return q.sessions.Resume(ctx, entityName)
}

// StopAsyncEnqueueIndexAll requests removal of the session of one type.
func (q *QueueManager) StopAsyncEnqueueIndexAll(ctx context.Context, entityName string) (bool, error) {
	return q.sessions.Stop(ctx, entityName)
}

// RemoveEnqueueingSession deletes the session of one type immediately.
func (q *QueueManager) RemoveEnqueueingSession(ctx context.Context, entityName string) (bool, error) {
	return q.sessions.Remove(ctx, entityName)
}

// ProcessNextEnqueueingSession processes one page of the oldest session.
// Returns 0 if there is no session.
func (q *QueueManager) ProcessNextEnqueueingSession(ctx context.Context, n int) (int, error) {
	return q.sessions.ProcessNext(ctx, q.pageSizeOr(n))
}

// ProcessEnqueueingSession processes one page of a specific session.
func (q *QueueManager) ProcessEnqueueingSession(ctx context.Context, entityName string, n int) (int, error) {
	return q.sessions.ProcessOnePage(ctx, entityName, q.pageSizeOr(n))
}

// Sessions returns all sessions, oldest first.
func (q *QueueManager) Sessions(ctx context.Context) ([]model.Session, error) {
	return q.sessions.Sessions(ctx)
}

func (q *QueueManager) pageSizeOr(n int) int {
	if n > 0 {
		return n
	}
	return q.pageSize
}

// --- Draining ---

type groupKey struct {
	entity string
	op     model.Operation
}

// BatchResult reports one drain pass.
type BatchResult struct {
	Peeked   int // entries read from the queue
	Removed  int // entries applied (or discarded) and removed
	Deferred int // entries whose write failed, hidden until their retry time
}

// ProcessNextBatch applies up to n of the oldest ready queue entries to the
// index writer and removes the applied ones. See DrainBatch.
//
// Returns the number of entries removed.
func (q *QueueManager) ProcessNextBatch(ctx context.Context, n int) (int, error) {
	res, err := q.DrainBatch(ctx, n)
	return res.Removed, err
}

// DrainBatch applies up to n of the oldest ready queue entries. Entries are
// grouped by entity type and operation. A group whose write fails is
// deferred with a growing delay so later entries are not starved behind it.
// Entries of types that are no longer indexed are removed without writing.
func (q *QueueManager) DrainBatch(ctx context.Context, n int) (BatchResult, error) {
	if n <= 0 {
		n = q.batchSize
	}
	now := q.clock.Now()
	entries, err := q.queue.PeekReady(ctx, n, now)
	if err != nil {
		return BatchResult{}, fmt.Errorf("process batch: %w", err)
	}
	res := BatchResult{Peeked: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}

	// Group in first-seen order so writes follow queue order per group
	var order []groupKey
	groups := make(map[groupKey][]model.QueueEntry)
	for _, e := range entries {
		k := groupKey{entity: e.EntityName, op: e.Operation}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	done := make([]int64, 0, len(entries))
	for _, k := range order {
		group := groups[k]
		if !q.types.IsIndexed(k.entity) {
			slog.Warn("discarding entries of non-indexed entity", "entity", k.entity, "count", len(group))
			metrics.Discarded.WithLabelValues(k.entity).Add(float64(len(group)))
			done = appendEntryIDs(done, group)
			continue
		}

		if err := q.apply(ctx, k, entityIDs(group)); err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("process batch: %w", ctx.Err())
			}
			until := now.Add(q.retryDelay(group))
			deferred, derr := q.queue.DeferEntries(ctx, appendEntryIDs(nil, group), until)
			if derr != nil {
				return res, fmt.Errorf("process batch: %w", derr)
			}
			res.Deferred += deferred
			slog.Warn("index write failed", "entity", k.entity, "operation", k.op, "count", len(group),
				"retry_at", until, "error", err)
			metrics.WriterFailures.WithLabelValues(k.entity, string(k.op)).Inc()
			continue
		}
		metrics.Drained.WithLabelValues(k.entity, string(k.op)).Add(float64(len(group)))
		done = appendEntryIDs(done, group)
	}

	res.Removed, err = q.queue.DeleteEntries(ctx, done)
	if err != nil {
		return res, fmt.Errorf("process batch: %w", err)
	}
	slog.Debug("batch processed", "peeked", res.Peeked, "removed", res.Removed, "deferred", res.Deferred)
	return res, nil
}

// retryDelay doubles the backoff per failed attempt of the group's most
// retried entry, capped at MaxRetryBackoff.
func (q *QueueManager) retryDelay(group []model.QueueEntry) time.Duration {
	attempts := 0
	for _, e := range group {
		attempts = max(attempts, e.Attempts)
	}
	d := q.backoff
	for i := 0; i < attempts && d < MaxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, max(MaxRetryBackoff, q.backoff))
}

func (q *QueueManager) apply(ctx context.Context, k groupKey, ids []string) error {
	switch k.op {
	case model.OpIndex:
		return q.writer.Index(ctx, k.entity, ids)
	case model.OpDelete:
		return q.writer.Delete(ctx, k.entity, ids)
	default:
		return fmt.Errorf("unknown operation %q", k.op)
	}
}

func entityIDs(group []model.QueueEntry) []string {
	ids := make([]string, len(group))
	for i, e := range group {
		ids[i] = e.EntityID
	}
	return ids
}

func appendEntryIDs(dst []int64, group []model.QueueEntry) []int64 {
	for _, e := range group {
		dst = append(dst, e.ID)
	}
	return dst
}

// ProcessEntireQueue drains batches until no ready entry is left. Entries
// deferred on the way stay queued for a later drain.
// Returns the total number of entries removed.
func (q *QueueManager) ProcessEntireQueue(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := q.DrainBatch(ctx, q.batchSize)
		total += res.Removed
		if err != nil {
			return total, err
		}
		if res.Peeked == 0 {
			return total, nil
		}
	}
}

// --- Administration ---

// EmptyQueue removes every pending entry and returns the number removed.
func (q *QueueManager) EmptyQueue(ctx context.Context) (int, error) {
	n, err := q.queue.PurgeQueue(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("queue emptied", "removed", n)
	return n, nil
}

// EmptyQueueFor removes the pending entries of one type.
func (q *QueueManager) EmptyQueueFor(ctx context.Context, entityName string) (int, error) {
	n, err := q.queue.PurgeQueueFor(ctx, entityName)
	if err != nil {
		return 0, err
	}
	slog.Info("queue emptied", "entity", entityName, "removed", n)
	return n, nil
}

// QueueSize returns the number of pending entries, duplicates included.
func (q *QueueManager) QueueSize(ctx context.Context) (int, error) {
	return q.queue.CountQueue(ctx, "", "")
}

// QueueSizeFor returns the pending entries of one type and operation.
// Empty values match anything.
func (q *QueueManager) QueueSizeFor(ctx context.Context, entityName string, op model.Operation) (int, error) {
	return q.queue.CountQueue(ctx, entityName, op)
}
