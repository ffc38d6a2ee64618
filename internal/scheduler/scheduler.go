// Package scheduler drives the session and queue loops on cron cadences.
//
// Each loop waits for the next tick of its cron expression, then works until
// there is nothing left to do (or a per-tick bound is reached). Job errors
// are logged and retried on the next tick; only context cancellation stops
// the scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/indexsync/internal/engine"
	"github.com/roach88/indexsync/internal/metrics"
)

// DefaultMaxPagesPerTick bounds the session pages processed in one tick.
const DefaultMaxPagesPerTick = 100

// retryDelay is the wait after a cron expression fails to yield a next tick.
const retryDelay = 30 * time.Second

// SessionProcessor processes one page of the oldest enqueueing session.
type SessionProcessor interface {
	ProcessNextEnqueueingSession(ctx context.Context, n int) (int, error)
}

// BatchProcessor drains one queue batch.
type BatchProcessor interface {
	DrainBatch(ctx context.Context, n int) (engine.BatchResult, error)
}

// Config holds the scheduler settings.
type Config struct {
	SessionCron     string
	QueueCron       string
	PageSize        int
	BatchSize       int
	MaxPagesPerTick int

	// RateLimit caps batches per second; 0 disables throttling.
	RateLimit float64
	Burst     int
}

// Scheduler runs both loops until its context is cancelled.
type Scheduler struct {
	cfg      Config
	sessions SessionProcessor
	batches  BatchProcessor
	limiter  *rate.Limiter

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New validates cfg and creates a scheduler.
func New(cfg Config, sessions SessionProcessor, batches BatchProcessor) (*Scheduler, error) {
	gron := gronx.New()
	if !gron.IsValid(cfg.SessionCron) {
		return nil, fmt.Errorf("scheduler: invalid session cron %q", cfg.SessionCron)
	}
	if !gron.IsValid(cfg.QueueCron) {
		return nil, fmt.Errorf("scheduler: invalid queue cron %q", cfg.QueueCron)
	}
	if cfg.MaxPagesPerTick <= 0 {
		cfg.MaxPagesPerTick = DefaultMaxPagesPerTick
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		batches:  batches,
		limiter:  limiter,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Run blocks until ctx is cancelled. Returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "session", s.cfg.SessionCron, s.SessionTick) })
	g.Go(func() error { return s.loop(ctx, "queue", s.cfg.QueueCron, s.QueueTick) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, name, expr string, job func(context.Context) (int, error)) error {
	slog.Info("scheduler loop started", "loop", name, "cron", expr)
	for {
		next, err := gronx.NextTickAfter(expr, s.now(), false)
		if err != nil {
			slog.Error("scheduler next tick failed", "loop", name, "cron", expr, "error", err)
			select {
			case <-s.after(retryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-s.after(next.Sub(s.now())):
		case <-ctx.Done():
			return ctx.Err()
		}

		n, err := job(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			slog.Error("scheduler job failed", "loop", name, "error", err)
			metrics.SchedulerTicks.WithLabelValues(name, "error").Inc()
		default:
			slog.Debug("scheduler tick", "loop", name, "processed", n)
			metrics.SchedulerTicks.WithLabelValues(name, "ok").Inc()
		}
	}
}

// SessionTick processes session pages until a page enqueues nothing or
// MaxPagesPerTick pages were processed. Returns the entries enqueued.
func (s *Scheduler) SessionTick(ctx context.Context) (int, error) {
	total := 0
	for i := 0; i < s.cfg.MaxPagesPerTick; i++ {
		n, err := s.sessions.ProcessNextEnqueueingSession(ctx, s.cfg.PageSize)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// QueueTick drains batches until no ready entry is left, throttled by the
// rate limiter. A batch whose writes all failed still counts as progress:
// its entries are deferred and the next batch reads past them.
// Returns the entries removed.
func (s *Scheduler) QueueTick(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}
		res, err := s.batches.DrainBatch(ctx, s.cfg.BatchSize)
		total += res.Removed
		if err != nil {
			return total, err
		}
		if res.Peeked == 0 {
			return total, nil
		}
	}
}
