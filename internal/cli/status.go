package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/indexsync/internal/model"
)

// StatusResult is a snapshot of the queue and the sessions.
type StatusResult struct {
	Database string          `json:"database"`
	Pending  int             `json:"pending"`
	Entities []EntityStatus  `json:"entities"`
	Sessions []model.Session `json:"sessions"`
}

// EntityStatus is the pending work of one entity type.
type EntityStatus struct {
	Name    string `json:"name"`
	Indexed bool   `json:"indexed"`
	Index   int    `json:"index"`
	Delete  int    `json:"delete"`
	Session string `json:"session,omitempty"`
}

func (s StatusResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Database: %s\n", s.Database)
	fmt.Fprintf(w, "Pending:  %s entries\n\n", humanize.Comma(int64(s.Pending)))

	fmt.Fprintf(w, "%-16s %-8s %10s %10s  %s\n", "ENTITY", "INDEXED", "INDEX", "DELETE", "SESSION")
	for _, e := range s.Entities {
		indexed := "no"
		if e.Indexed {
			indexed = "yes"
		}
		session := e.Session
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(w, "%-16s %-8s %10s %10s  %s\n", e.Name, indexed,
			humanize.Comma(int64(e.Index)), humanize.Comma(int64(e.Delete)), session)
	}

	if len(s.Sessions) > 0 {
		fmt.Fprintln(w)
		if err := (SessionList{Sessions: s.Sessions}).RenderText(w); err != nil {
			return err
		}
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show pending queue entries and sessions",
		Args:          cobra.NoArgs,
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

			result := StatusResult{Database: filepath.Base(a.cfg.Database)}
			if result.Pending, err = a.queue.QueueSize(ctx); err != nil {
				return report(out, "failed to count queue", err)
			}
			if result.Sessions, err = a.queue.Sessions(ctx); err != nil {
				return report(out, "failed to list sessions", err)
			}
			actions := make(map[string]model.SessionAction, len(result.Sessions))
			for _, s := range result.Sessions {
				actions[s.EntityName] = s.Action
			}

			for _, et := range a.types.All() {
				e := EntityStatus{Name: et.EntityName, Indexed: et.Indexed, Session: string(actions[et.EntityName])}
				if e.Index, err = a.queue.QueueSizeFor(ctx, et.EntityName, model.OpIndex); err != nil {
					return report(out, "failed to count queue", err)
				}
				if e.Delete, err = a.queue.QueueSizeFor(ctx, et.EntityName, model.OpDelete); err != nil {
					return report(out, "failed to count queue", err)
				}
				result.Entities = append(result.Entities, e)
			}
			return out.Success(result)
		},
	}
}
