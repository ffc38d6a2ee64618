package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/indexsync/internal/metrics"
	"github.com/roach88/indexsync/internal/scheduler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MaxPagesPerTick int

	// Ready, if set, receives the metrics address (empty when disabled) once
	// the loops are started, then is closed. Used by tests.
	Ready chan<- string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the session and queue loops",
		Long: `Run the background loops until interrupted.

The session loop processes pages of the oldest enqueueing session on
sessions.cron; the queue loop drains batches into the index on queue.cron.
When metrics.listen is set, Prometheus metrics are served on /metrics.

Example:
  indexsync run -c /etc/indexsync.yaml
  indexsync run --db /tmp/records.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoops(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxPagesPerTick, "max-pages", scheduler.DefaultMaxPagesPerTick, "session pages processed per tick")
	return cmd
}

func runLoops(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(scheduler.Config{
		SessionCron:     a.cfg.Sessions.Cron,
		QueueCron:       a.cfg.Queue.Cron,
		PageSize:        a.cfg.Sessions.PageSize,
		BatchSize:       a.cfg.Queue.BatchSize,
		MaxPagesPerTick: opts.MaxPagesPerTick,
		RateLimit:       a.cfg.Queue.RateLimit,
		Burst:           a.cfg.Queue.Burst,
	}, a.queue, a.queue)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd.Context()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	addr := ""
	if a.cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg,
			metrics.NewQueueCollector(a.store),
			metrics.NewIndexCollector(a.index),
		); err != nil {
			return WrapExitError(ExitFailure, "failed to register metrics", err)
		}

		ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		addr = ln.Addr().String()
		g.Go(func() error { return serveMetrics(ctx, ln, reg) })
	}

	g.Go(func() error { return sched.Run(ctx) })

	slog.Info("indexsync started", "db", a.cfg.Database, "index", a.cfg.IndexDir, "metrics", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Scheduler started. Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready <- addr
		close(opts.Ready)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}
	slog.Info("indexsync stopped gracefully")
	return nil
}

// serveMetrics serves /metrics on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
