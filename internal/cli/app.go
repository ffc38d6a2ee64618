package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/indexsync/internal/config"
	"github.com/roach88/indexsync/internal/engine"
	"github.com/roach88/indexsync/internal/index"
	"github.com/roach88/indexsync/internal/lock"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/store"
)

// errNoIndex is returned by commands that drain without an open index.
var errNoIndex = errors.New("index not opened")

// app is the wired runtime shared by the commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	types    *metadata.Registry
	sessions *engine.SessionManager
	queue    *engine.QueueManager
	index    *index.PebbleWriter // nil unless opened with withIndex
}

// openApp loads the configuration and wires the engine. The index is only
// opened when withIndex is set, so read-only commands never touch it.
func openApp(opts *RootOptions, withIndex bool) (*app, error) {
	cfg, err := config.Load(config.ResolvePath(opts.Config))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	types, err := cfg.Registry()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid entity types", err)
	}

	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{cfg: cfg, store: st, types: types}

	var writer index.Writer = unavailableWriter{}
	if withIndex {
		a.index, err = index.OpenPebble(cfg.IndexDir, st, types)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open index", err)
		}
		writer = a.index
	}

	a.sessions = engine.NewSessionManager(st, engine.NewIDLoader(st), types, newLocker(cfg, st),
		engine.WithLockTimeout(cfg.Lock.Timeout),
	)
	a.queue = engine.NewQueueManager(st, a.sessions, writer,
		engine.WithSessionPageSize(cfg.Sessions.PageSize),
		engine.WithBatchSize(cfg.Queue.BatchSize),
		engine.WithRetryBackoff(cfg.Queue.RetryBackoff),
	)
	return a, nil
}

func newLocker(cfg *config.Config, st *store.Store) lock.Locker {
	if cfg.Lock.Provider == config.LockSQLite {
		return store.NewLeaseLocker(st, store.WithLeaseTTL(cfg.Lock.LeaseTTL))
	}
	return lock.NewRegistry()
}

// Close releases the index and the database.
func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			slog.Error("error closing index", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// unavailableWriter rejects every write.
type unavailableWriter struct{}

func (unavailableWriter) Index(context.Context, string, []string) error  { return errNoIndex }
func (unavailableWriter) Delete(context.Context, string, []string) error { return errNoIndex }

// commandContext returns the command's context, or Background if unset.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// now is the wall clock used for relative times in text output.
var now = func() time.Time { return time.Now().UTC() }
