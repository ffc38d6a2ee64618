package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/engine"
)

// scripted returns the queued results in order, then 0. As a batch
// processor it first replays drains, then reports each result as fully
// removed.
type scripted struct {
	mu      sync.Mutex
	results []int
	drains  []engine.BatchResult
	err     error
	calls   atomic.Int32
	sizes   []int
}

func (s *scripted) next(n int) (int, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, n)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func (s *scripted) ProcessNextEnqueueingSession(_ context.Context, n int) (int, error) {
	return s.next(n)
}

func (s *scripted) DrainBatch(_ context.Context, n int) (engine.BatchResult, error) {
	s.mu.Lock()
	if len(s.drains) > 0 {
		r := s.drains[0]
		s.drains = s.drains[1:]
		s.sizes = append(s.sizes, n)
		s.mu.Unlock()
		s.calls.Add(1)
		return r, nil
	}
	s.mu.Unlock()

	r, err := s.next(n)
	return engine.BatchResult{Peeked: r, Removed: r}, err
}

func testConfig() Config {
	return Config{
		SessionCron: "* * * * *",
		QueueCron:   "*/5 * * * *",
		PageSize:    10,
		BatchSize:   20,
	}
}

func TestNew_RejectsInvalidCron(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCron = "not a cron"

	_, err := New(cfg, &scripted{}, &scripted{})
	assert.Error(t, err)
}

func TestSessionTick_StopsAtEmptyPage(t *testing.T) {
	sessions := &scripted{results: []int{10, 10, 3}}
	s, err := New(testConfig(), sessions, &scripted{})
	require.NoError(t, err)

	n, err := s.SessionTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, n)
	assert.Equal(t, int32(4), sessions.calls.Load(), "three pages then an empty one")
	assert.Equal(t, []int{10, 10, 10, 10}, sessions.sizes)
}

func TestSessionTick_BoundedPerTick(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPagesPerTick = 2
	sessions := &scripted{results: []int{10, 10, 10, 10}}
	s, err := New(cfg, sessions, &scripted{})
	require.NoError(t, err)

	n, err := s.SessionTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, int32(2), sessions.calls.Load())
}

func TestQueueTick_DrainsUntilEmpty(t *testing.T) {
	batches := &scripted{results: []int{20, 20, 5}}
	s, err := New(testConfig(), &scripted{}, batches)
	require.NoError(t, err)

	n, err := s.QueueTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45, n)
	assert.Equal(t, []int{20, 20, 20, 20}, batches.sizes)
}

func TestQueueTick_ContinuesPastDeferredBatch(t *testing.T) {
	batches := &scripted{
		drains:  []engine.BatchResult{{Peeked: 20, Deferred: 20}},
		results: []int{3},
	}
	s, err := New(testConfig(), &scripted{}, batches)
	require.NoError(t, err)

	n, err := s.QueueTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), batches.calls.Load(), "failed batch, healthy batch, then an empty one")
}

func TestQueueTick_Error(t *testing.T) {
	batches := &scripted{err: errors.New("database is locked")}
	s, err := New(testConfig(), &scripted{}, batches)
	require.NoError(t, err)

	_, err = s.QueueTick(context.Background())
	assert.Error(t, err)
}

func TestQueueTick_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 50 // one batch per 20ms after the burst
	cfg.Burst = 1
	batches := &scripted{results: []int{1, 1, 1}}
	s, err := New(cfg, &scripted{}, batches)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.QueueTick(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "four batches at 50/s")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	sessions := &scripted{results: []int{5}}
	batches := &scripted{err: errors.New("transient")}
	s, err := New(testConfig(), sessions, batches)
	require.NoError(t, err)

	// Fire every tick immediately
	fired := make(chan time.Time)
	close(fired)
	s.after = func(time.Duration) <-chan time.Time { return fired }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sessions.calls.Load() >= 3 && batches.calls.Load() >= 3
	}, 2*time.Second, time.Millisecond, "job errors do not stop the loop")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
