package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNotHeld is returned when a lease is released twice.
var ErrNotHeld = errors.New("lock not held")

// Locker is a named try-lock with bounded wait.
type Locker interface {
	// TryLock acquires the named lock, waiting at most timeout.
	// Returns a nil Lease (and no error) if the lock is still held at the
	// deadline.
	TryLock(ctx context.Context, name string, timeout time.Duration) (Lease, error)
}

// Lease is one acquisition of a named lock.
type Lease interface {
	// Lost is closed when the lease can no longer be guaranteed, for example
	// because it expired and another holder took it over. A nil channel
	// means the lease cannot be lost.
	Lost() <-chan struct{}

	// Unlock releases this acquisition only. It never releases a lease
	// acquired later by someone else.
	Unlock(ctx context.Context) error
}

// Registry is an in-process Locker. Each name maps to a one-slot channel;
// holding the lock means owning the slot.
//
// Thread-safety: Registry is safe for concurrent use. Locks are not reentrant.
type Registry struct {
	slots *xsync.MapOf[string, chan struct{}]
}

var _ Locker = (*Registry)(nil)

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{slots: xsync.NewMapOf[string, chan struct{}]()}
}

func (r *Registry) slot(name string) chan struct{} {
	ch, _ := r.slots.LoadOrCompute(name, func() chan struct{} {
		return make(chan struct{}, 1)
	})
	return ch
}

// TryLock implements Locker. A timeout <= 0 makes a single attempt.
func (r *Registry) TryLock(ctx context.Context, name string, timeout time.Duration) (Lease, error) {
	ch := r.slot(name)

	select {
	case ch <- struct{}{}:
		return &slotLease{slot: ch}, nil
	default:
	}
	if timeout <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return &slotLease{slot: ch}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Held reports whether the named lock is currently held.
func (r *Registry) Held(name string) bool {
	ch, ok := r.slots.Load(name)
	return ok && len(ch) == 1
}

// slotLease owns a Registry slot until released.
type slotLease struct {
	slot     chan struct{}
	released atomic.Bool
}

// Lost returns nil: an in-process slot cannot expire.
func (l *slotLease) Lost() <-chan struct{} { return nil }

func (l *slotLease) Unlock(context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrNotHeld
	}
	<-l.slot
	return nil
}
