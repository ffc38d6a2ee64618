package engine

import "time"

// Clock supplies wall-clock timestamps for session creation and queue entries.
// Timestamps only order sessions FIFO; nothing depends on them being exact.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real UTC wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
