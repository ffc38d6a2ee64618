package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/indexsync/internal/lock"
)

// Default lease settings.
const (
	DefaultLeaseTTL          = time.Minute
	DefaultLeasePollInterval = 25 * time.Millisecond
)

// maxRenewFailures is the number of consecutive failed renewals after which
// a lease is reported lost.
const maxRenewFailures = 3

// errNotOwner is returned by renew when the lease row belongs to someone else.
var errNotOwner = errors.New("lease taken over")

// LeaseLocker is a named try-lock backed by the locks table, usable across
// processes sharing the database.
//
// Each acquisition writes a lease row with a fresh owner token and an expiry,
// and renews it in the background until released. An expired lease may be
// taken over by any contender, so a crashed holder blocks others for at most
// TTL. Leases are not reentrant.
//
// Thread-safety: LeaseLocker is safe for concurrent use.
type LeaseLocker struct {
	store *Store
	ttl   time.Duration
	renew time.Duration
	poll  time.Duration
	now   func() time.Time
}

var _ lock.Locker = (*LeaseLocker)(nil)

// LeaseOption configures a LeaseLocker.
type LeaseOption func(*LeaseLocker)

// WithLeaseTTL sets how long an unrenewed lease stays valid.
func WithLeaseTTL(ttl time.Duration) LeaseOption {
	return func(l *LeaseLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLeaseRenewInterval sets how often a held lease is extended.
// Defaults to a third of the TTL.
func WithLeaseRenewInterval(d time.Duration) LeaseOption {
	return func(l *LeaseLocker) {
		if d > 0 {
			l.renew = d
		}
	}
}

// WithLeasePollInterval sets how often a waiting TryLock retries.
func WithLeasePollInterval(d time.Duration) LeaseOption {
	return func(l *LeaseLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLeaseClock overrides the wall clock used for expiry (for tests).
func WithLeaseClock(now func() time.Time) LeaseOption {
	return func(l *LeaseLocker) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLeaseLocker creates a lease locker on the store's locks table.
func NewLeaseLocker(s *Store, opts ...LeaseOption) *LeaseLocker {
	l := &LeaseLocker{
		store: s,
		ttl:   DefaultLeaseTTL,
		poll:  DefaultLeasePollInterval,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renew == 0 {
		l.renew = l.ttl / 3
	}
	return l
}

// TryLock attempts to acquire the named lease, retrying until timeout
// elapses. Returns a nil Lease (and no error) when the lease is still held by
// someone else at the deadline. A timeout <= 0 makes a single attempt.
func (l *LeaseLocker) TryLock(ctx context.Context, name string, timeout time.Duration) (lock.Lease, error) {
	owner, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("lease %s: owner token: %w", name, err)
	}
	token := owner.String()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.acquire(ctx, name, token)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.Debug("lease acquired", "name", name, "owner", token)
			return l.hold(name, token), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := min(l.poll, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// acquire makes one attempt: insert the lease, or take it over if the
// current holder's lease expired.
func (l *LeaseLocker) acquire(ctx context.Context, name, token string) (bool, error) {
	now := l.now()
	result, err := l.store.db.ExecContext(ctx, `
		INSERT INTO locks (name, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?
	`, name, token, toUnixNano(now.Add(l.ttl)), toUnixNano(now))
	if err != nil {
		return false, fmt.Errorf("lease %s: acquire: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lease %s: rows affected: %w", name, err)
	}
	return n > 0, nil
}

// extend pushes the expiry of a lease this token still owns.
func (l *LeaseLocker) extend(ctx context.Context, name, token string) error {
	result, err := l.store.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = ? WHERE name = ? AND owner = ?
	`, toUnixNano(l.now().Add(l.ttl)), name, token)
	if err != nil {
		return fmt.Errorf("lease %s: renew: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errNotOwner
	}
	return nil
}

// hold starts the heartbeat of a freshly acquired lease.
func (l *LeaseLocker) hold(name, token string) *heldLease {
	h := &heldLease{
		locker: l,
		name:   name,
		token:  token,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.heartbeat()
	return h
}

// heldLease is one acquisition of a LeaseLocker lease.
type heldLease struct {
	locker *LeaseLocker
	name   string
	token  string

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	released bool
}

var _ lock.Lease = (*heldLease)(nil)

func (h *heldLease) Lost() <-chan struct{} { return h.lost }

func (h *heldLease) markLost() {
	h.lostOnce.Do(func() { close(h.lost) })
}

// heartbeat renews the lease until Unlock. The lease is lost as soon as the
// row belongs to another owner, or after maxRenewFailures failed renewals.
func (h *heldLease) heartbeat() {
	defer close(h.done)
	t := time.NewTicker(h.locker.renew)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
		}

		err := h.locker.extend(context.Background(), h.name, h.token)
		switch {
		case err == nil:
			if failures > 0 {
				slog.Info("lease renewed after failures", "name", h.name, "failures", failures)
			}
			failures = 0
		case errors.Is(err, errNotOwner):
			slog.Warn("lease lost", "name", h.name, "owner", h.token)
			h.markLost()
			return
		default:
			failures++
			slog.Warn("lease renew failed", "name", h.name, "error", err, "count", failures)
			if failures >= maxRenewFailures {
				h.markLost()
				return
			}
		}
	}
}

// Unlock stops the heartbeat and deletes the lease row if this acquisition
// still owns it. A lease that was taken over is left to its new owner.
func (h *heldLease) Unlock(ctx context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return fmt.Errorf("lease %s: %w", h.name, lock.ErrNotHeld)
	}
	h.released = true
	h.mu.Unlock()

	close(h.stop)
	<-h.done

	result, err := h.locker.store.db.ExecContext(ctx, `
		DELETE FROM locks WHERE name = ? AND owner = ?
	`, h.name, h.token)
	if err != nil {
		return fmt.Errorf("lease %s: release: %w", h.name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		slog.Warn("lease expired before release", "name", h.name, "owner", h.token)
	} else {
		slog.Debug("lease released", "name", h.name, "owner", h.token)
	}
	return nil
}
