package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/indexsync/internal/engine"
	"github.com/roach88/indexsync/internal/model"
)

// SessionResult reports the outcome of a session command.
type SessionResult struct {
	Operation string `json:"operation"`
	Entity    string `json:"entity,omitempty"`
	OK        bool   `json:"ok"`
	Enqueued  *int   `json:"enqueued,omitempty"`
	Sessions  *int   `json:"sessions,omitempty"`
}

func (r SessionResult) RenderText(w io.Writer) error {
	entity := r.Entity
	if entity == "" {
		entity = "(next)"
	}
	status := "ok"
	if !r.OK {
		status = "refused"
	}
	if r.Sessions != nil {
		_, err := fmt.Fprintf(w, "%s %s: %d session(s) started\n", r.Operation, entity, *r.Sessions)
		return err
	}
	if r.Enqueued != nil {
		_, err := fmt.Fprintf(w, "%s %s: %s, %s enqueued\n", r.Operation, entity, status, humanize.Comma(int64(*r.Enqueued)))
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s: %s\n", r.Operation, entity, status)
	return err
}

// SessionList is the output of "session list".
type SessionList struct {
	Sessions []model.Session `json:"sessions"`
}

func (l SessionList) RenderText(w io.Writer) error {
	if len(l.Sessions) == 0 {
		_, err := fmt.Fprintln(w, "No enqueueing sessions.")
		return err
	}
	for _, s := range l.Sessions {
		cursor := "-"
		if s.LastProcessedValue != nil {
			cursor = *s.LastProcessedValue
		}
		if _, err := fmt.Fprintf(w, "%-16s %-9s key=%-10s cursor=%-10s created %s\n",
			s.EntityName, s.Action, s.OrderingKey, cursor,
			humanize.RelTime(s.CreatedAt, now(), "ago", "from now")); err != nil {
			return err
		}
	}
	return nil
}

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage enqueueing sessions",
		Long: `Manage resumable bulk-enqueue sessions, one per entity type.

A session scans an entity type's table page by page, appending one INDEX
queue entry per record, and can be suspended, resumed or stopped between
pages.

Exit codes:
  0 - Operation applied
  1 - Operation refused (lock busy, no session, session stopped)
  2 - Command error (unknown or non-indexed entity type, bad config)`,
	}

	cmd.AddCommand(newSessionInitCommand(rootOpts))
	cmd.AddCommand(newSessionTransitionCommand(rootOpts, "suspend", "Pause a session between pages",
		(*engine.QueueManager).SuspendAsyncEnqueueIndexAll))
	cmd.AddCommand(newSessionTransitionCommand(rootOpts, "resume", "Resume a suspended session",
		(*engine.QueueManager).ResumeAsyncEnqueueIndexAll))
	cmd.AddCommand(newSessionTransitionCommand(rootOpts, "stop", "Stop a session; it is removed on its next page",
		(*engine.QueueManager).StopAsyncEnqueueIndexAll))
	cmd.AddCommand(newSessionTransitionCommand(rootOpts, "remove", "Delete a session immediately",
		(*engine.QueueManager).RemoveEnqueueingSession))
	cmd.AddCommand(newSessionProcessCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))

	return cmd
}

func newSessionInitCommand(rootOpts *RootOptions) *cobra.Command {
	var all, restart bool

	cmd := &cobra.Command{
		Use:   "init [entity...]",
		Short: "Start enqueueing sessions",
		Example: `  indexsync session init Customer
  indexsync session init Customer --restart
  indexsync session init --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return NewExitError(ExitCommandError, "pass entity types or --all, not both")
			}

			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd.Context())
			out := rootOpts.formatter(cmd)

			if all {
				n, err := a.queue.InitAsyncEnqueueIndexAll(ctx)
				if err != nil {
					return report(out, "failed to init sessions", err)
				}
				return out.Success(SessionResult{Operation: "init", Entity: "(all)", OK: true, Sessions: &n})
			}

			refused := 0
			results := make([]SessionResult, 0, len(args))
			for _, entity := range args {
				ok, err := a.queue.InitAsyncEnqueueIndexAllFor(ctx, entity, restart)
				if err != nil {
					return report(out, fmt.Sprintf("failed to init session %s", entity), err)
				}
				if !ok {
					refused++
				}
				results = append(results, SessionResult{Operation: "init", Entity: entity, OK: ok})
			}
			if err := renderAll(out, results); err != nil {
				return err
			}
			if refused > 0 {
				return refuse(out, fmt.Sprintf("%d session(s) not initialized: lock busy", refused), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "start a session for every indexed entity type")
	cmd.Flags().BoolVar(&restart, "restart", false, "rewind an existing session to the start")
	return cmd
}

// renderAll outputs a list in JSON mode and one line per result in text mode.
func renderAll(out *OutputFormatter, results []SessionResult) error {
	if out.Format == "json" {
		return out.Success(results)
	}
	for _, r := range results {
		if err := r.RenderText(out.Writer); err != nil {
			return err
		}
	}
	return nil
}

type sessionOp func(q *engine.QueueManager, ctx context.Context, entity string) (bool, error)

func newSessionTransitionCommand(rootOpts *RootOptions, name, short string, op sessionOp) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <entity>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			ok, err := op(a.queue, commandContext(cmd.Context()), args[0])
			if err != nil {
				return report(out, fmt.Sprintf("failed to %s session %s", name, args[0]), err)
			}
			result := SessionResult{Operation: name, Entity: args[0], OK: ok}
			if !ok {
				return refuse(out, fmt.Sprintf("%s %s refused: no session, wrong state or lock busy", name, args[0]), result)
			}
			return out.Success(result)
		},
	}
}

func newSessionProcessCommand(rootOpts *RootOptions) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "process [entity]",
		Short: "Process one page of a session",
		Long: `Process one page of the named session, or of the oldest session when no
entity type is given. Stopped sessions are removed, suspended sessions are
left untouched.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd.Context())
			out := rootOpts.formatter(cmd)

			var n int
			entity := ""
			if len(args) == 1 {
				entity = args[0]
				n, err = a.queue.ProcessEnqueueingSession(ctx, entity, pageSize)
			} else {
				n, err = a.queue.ProcessNextEnqueueingSession(ctx, pageSize)
			}
			if err != nil {
				return report(out, "failed to process session", err)
			}
			return out.Success(SessionResult{Operation: "process", Entity: entity, OK: true, Enqueued: &n})
		},
	}

	cmd.Flags().IntVarP(&pageSize, "page-size", "n", 0, "page size (default from config)")
	return cmd
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List sessions, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			sessions, err := a.queue.Sessions(commandContext(cmd.Context()))
			if err != nil {
				return report(out, "failed to list sessions", err)
			}
			return out.Success(SessionList{Sessions: sessions})
		},
	}
}
