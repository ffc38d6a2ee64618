package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/indexsync/internal/lock"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/metrics"
	"github.com/roach88/indexsync/internal/model"
)

// DefaultLockTimeout bounds how long a session operation waits for the
// entity type's lock.
const DefaultLockTimeout = 10 * time.Second

// SessionManager drives the lifecycle of enqueueing sessions.
//
// State machine (per entity type):
//
//	none ──Init──▶ EXECUTE ◀──Resume── SUSPENDED
//	                  │ ──Suspend──────────▲
//	                  ▼
//	any ──Stop──▶ STOPPED ──ProcessOnePage──▶ none
//
// An EXECUTE session is also deleted when a page comes back short.
//
// Thread-safety: SessionManager is safe for concurrent use. Operations on
// the same entity type are serialized by the locker; different types run
// concurrently.
type SessionManager struct {
	sessions    SessionStore
	loader      *IDLoader
	types       *metadata.Registry
	locker      lock.Locker
	clock       Clock
	lockTimeout time.Duration
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithLockTimeout sets the maximum wait for a session lock.
func WithLockTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

// WithClock sets the clock used for session and queue timestamps.
func WithClock(c Clock) SessionOption {
	return func(m *SessionManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewSessionManager creates a session manager.
func NewSessionManager(
	sessions SessionStore,
	loader *IDLoader,
	types *metadata.Registry,
	locker lock.Locker,
	opts ...SessionOption,
) *SessionManager {
	m := &SessionManager{
		sessions:    sessions,
		loader:      loader,
		types:       types,
		locker:      locker,
		clock:       SystemClock{},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lockName(entityName string) string {
	return "enqueueing-session/" + entityName
}

// withLock runs fn while holding the entity type's session lock.
// Returns false without running fn if the lock is not acquired in time.
//
// fn receives a context that is cancelled if the lease is lost while fn
// runs, so its store writes fail instead of racing a new holder.
func (m *SessionManager) withLock(ctx context.Context, entityName string, fn func(ctx context.Context) error) (bool, error) {
	name := lockName(entityName)
	lease, err := m.locker.TryLock(ctx, name, m.lockTimeout)
	if err != nil {
		return false, fmt.Errorf("session %s: acquire lock: %w", entityName, err)
	}
	if lease == nil {
		slog.Info("session lock not acquired", "entity", entityName, "timeout", m.lockTimeout)
		metrics.LockContention.WithLabelValues(entityName).Inc()
		return false, nil
	}
	defer func() {
		// Release even if ctx was cancelled while fn ran
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("session lock release failed", "entity", entityName, "error", err)
		}
	}()

	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if lost := lease.Lost(); lost != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-lost:
				cancel(ErrLockLost)
			case <-stop:
			}
		}()
	}

	if err := fn(lockCtx); err != nil {
		if errors.Is(context.Cause(lockCtx), ErrLockLost) {
			return true, ErrLockLost
		}
		return true, err
	}
	return true, nil
}

// indexedType returns the registered type or an error if it is unknown or
// not indexed.
func (m *SessionManager) indexedType(entityName string) (metadata.EntityType, error) {
	et, err := m.types.Get(entityName)
	if err != nil {
		return metadata.EntityType{}, err
	}
	if !et.Indexed {
		return metadata.EntityType{}, fmt.Errorf("%w: %q", ErrNotIndexed, entityName)
	}
	return et, nil
}

// Init creates an EXECUTE session with no cursor.
//
// An existing session is reset to the start (cursor cleared, action EXECUTE,
// ordering key re-resolved) if restart is set or the session is STOPPED;
// otherwise it is left as is. The original creation time is kept, so a
// restarted session keeps its place in the FIFO.
//
// Returns false only if the lock was not acquired in time.
func (m *SessionManager) Init(ctx context.Context, entityName string, restart bool) (bool, error) {
	et, err := m.indexedType(entityName)
	if err != nil {
		return false, fmt.Errorf("init session: %w", err)
	}
	key, err := metadata.ResolveOrderingKey(et)
	if err != nil {
		return false, fmt.Errorf("init session: %w", err)
	}

	return m.withLock(ctx, entityName, func(ctx context.Context) error {
		existing, err := m.sessions.LoadSession(ctx, entityName)
		if err != nil {
			return err
		}

		switch {
		case existing == nil:
			slog.Info("session created", "entity", entityName, "ordering_key", key)
			return m.sessions.SaveSession(ctx, model.Session{
				EntityName:  entityName,
				Action:      model.ActionExecute,
				OrderingKey: key,
				CreatedAt:   m.clock.Now(),
			})

		case restart || existing.Action == model.ActionStopped:
			slog.Info("session restarted", "entity", entityName, "previous_action", existing.Action)
			return m.sessions.SaveSession(ctx, model.Session{
				EntityName:  entityName,
				Action:      model.ActionExecute,
				OrderingKey: key,
				CreatedAt:   existing.CreatedAt,
			})

		default:
			slog.Debug("session already exists", "entity", entityName, "action", existing.Action)
			return nil
		}
	})
}

// transition moves an existing session to target. from lists the actions
// that may move; a session already at target is accepted unchanged.
func (m *SessionManager) transition(
	ctx context.Context,
	entityName string,
	target model.SessionAction,
	from ...model.SessionAction,
) (bool, error) {
	if _, err := m.indexedType(entityName); err != nil {
		return false, fmt.Errorf("session %s: %s: %w", entityName, target, err)
	}

	var changed bool
	acquired, err := m.withLock(ctx, entityName, func(ctx context.Context) error {
		sess, err := m.sessions.LoadSession(ctx, entityName)
		if err != nil || sess == nil {
			return err
		}
		if sess.Action == target {
			changed = true
			return nil
		}
		for _, a := range from {
			if sess.Action == a {
				slog.Info("session transition", "entity", entityName, "from", sess.Action, "to", target)
				sess.Action = target
				if err := m.sessions.SaveSession(ctx, *sess); err != nil {
					return err
				}
				changed = true
				return nil
			}
		}
		slog.Debug("session transition refused", "entity", entityName, "action", sess.Action, "target", target)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("session %s: %s: %w", entityName, target, err)
	}
	return acquired && changed, nil
}

// Suspend pauses an EXECUTE session. Suspending a SUSPENDED session is a
// successful no-op. Returns false for STOPPED or missing sessions.
func (m *SessionManager) Suspend(ctx context.Context, entityName string) (bool, error) {
	return m.transition(ctx, entityName, model.ActionSuspended, model.ActionExecute)
}

// Resume continues a SUSPENDED session from its cursor. Resuming an EXECUTE
// session is a successful no-op. Returns false for STOPPED or missing sessions.
func (m *SessionManager) Resume(ctx context.Context, entityName string) (bool, error) {
	return m.transition(ctx, entityName, model.ActionExecute, model.ActionSuspended)
}

// Stop marks a session for deletion on its next processing attempt.
// Returns false if there is no session.
func (m *SessionManager) Stop(ctx context.Context, entityName string) (bool, error) {
	return m.transition(ctx, entityName, model.ActionStopped, model.ActionExecute, model.ActionSuspended)
}

// Remove deletes a session immediately, whatever its action.
// Returns whether a session was removed.
func (m *SessionManager) Remove(ctx context.Context, entityName string) (bool, error) {
	if _, err := m.indexedType(entityName); err != nil {
		return false, fmt.Errorf("remove session %s: %w", entityName, err)
	}

	var removed bool
	_, err := m.withLock(ctx, entityName, func(ctx context.Context) error {
		var err error
		removed, err = m.sessions.DeleteSession(ctx, entityName)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove session %s: %w", entityName, err)
	}
	if removed {
		slog.Info("session removed", "entity", entityName)
	}
	return removed, nil
}

// ProcessOnePage advances the session of entityName by one page of at most
// n identifiers and returns the number of INDEX entries appended.
//
//   - STOPPED: the session is deleted, 0 is returned
//   - SUSPENDED: nothing happens, 0 is returned
//   - EXECUTE: the next page is enqueued and the cursor moves to its last
//     ordering value; a page shorter than n ends the scan and deletes the
//     session
//
// The lock is held for the whole page, so a page is never processed twice
// concurrently. A missing session or lock timeout returns 0. An unknown or
// non-indexed type is an error.
func (m *SessionManager) ProcessOnePage(ctx context.Context, entityName string, n int) (int, error) {
	if _, err := m.indexedType(entityName); err != nil {
		return 0, fmt.Errorf("process session %s: %w", entityName, err)
	}
	return m.processSession(ctx, entityName, n)
}

// ProcessNext advances the oldest session by one page. A session left over
// from a type that is no longer indexed is dropped. Returns 0 if there is no
// session.
func (m *SessionManager) ProcessNext(ctx context.Context, n int) (int, error) {
	sess, err := m.NextSession(ctx)
	if err != nil || sess == nil {
		return 0, err
	}
	return m.processSession(ctx, sess.EntityName, n)
}

func (m *SessionManager) processSession(ctx context.Context, entityName string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("process session %s: %w", entityName, ErrInvalidPageSize)
	}

	var count int
	_, err := m.withLock(ctx, entityName, func(ctx context.Context) error {
		sess, err := m.sessions.LoadSession(ctx, entityName)
		if err != nil || sess == nil {
			return err
		}

		switch sess.Action {
		case model.ActionStopped:
			if _, err := m.sessions.DeleteSession(ctx, entityName); err != nil {
				return err
			}
			slog.Info("stopped session removed", "entity", entityName)
			metrics.SessionPages.WithLabelValues(entityName, "stopped").Inc()
			return nil

		case model.ActionSuspended:
			slog.Debug("session suspended", "entity", entityName)
			metrics.SessionPages.WithLabelValues(entityName, "suspended").Inc()
			return nil
		}

		et, err := m.indexedType(entityName)
		if err != nil {
			// The type was unregistered or unindexed after the session was
			// created; the session could never finish.
			slog.Warn("dropping session of non-indexed type", "entity", entityName, "error", err)
			_, err = m.sessions.DeleteSession(ctx, entityName)
			return err
		}

		count, err = m.processPage(ctx, et, sess, n)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("process session %s: %w", entityName, err)
	}
	return count, nil
}

// processPage loads and commits one page of an EXECUTE session.
// Caller holds the session lock.
func (m *SessionManager) processPage(ctx context.Context, et metadata.EntityType, sess *model.Session, n int) (int, error) {
	page, err := m.loader.LoadPage(ctx, et, sess.OrderingKey, sess.LastProcessedValue, n)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(page))
	for i, v := range page {
		ids[i] = v.ID
	}
	cursor := ""
	if len(page) > 0 {
		cursor = page[len(page)-1].OrderingValue
	}
	exhausted := len(page) < n

	if err := m.sessions.CommitPage(ctx, et.EntityName, ids, cursor, exhausted, m.clock.Now()); err != nil {
		return 0, err
	}

	metrics.Enqueued.WithLabelValues(et.EntityName, string(model.OpIndex), "session").Add(float64(len(ids)))
	if exhausted {
		slog.Info("session completed", "entity", et.EntityName, "enqueued", len(ids))
		metrics.SessionPages.WithLabelValues(et.EntityName, "exhausted").Inc()
	} else {
		slog.Debug("session advanced", "entity", et.EntityName, "enqueued", len(ids), "cursor", cursor)
		metrics.SessionPages.WithLabelValues(et.EntityName, "advanced").Inc()
	}
	return len(ids), nil
}

// NextSession returns the oldest session regardless of its action, or nil.
func (m *SessionManager) NextSession(ctx context.Context) (*model.Session, error) {
	sess, err := m.sessions.NextSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("next session: %w", err)
	}
	return sess, nil
}

// Session returns the session of entityName, or nil.
func (m *SessionManager) Session(ctx context.Context, entityName string) (*model.Session, error) {
	sess, err := m.sessions.LoadSession(ctx, entityName)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", entityName, err)
	}
	return sess, nil
}

// Sessions returns all sessions, oldest first.
func (m *SessionManager) Sessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
