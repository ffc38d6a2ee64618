package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/indexsync/internal/model"
)

// QueueResult reports how many queue entries a command added or removed.
type QueueResult struct {
	Operation string `json:"operation"`
	Entity    string `json:"entity,omitempty"`
	Count     int    `json:"count"`
}

func (r QueueResult) RenderText(w io.Writer) error {
	scope := "all entity types"
	if r.Entity != "" {
		scope = r.Entity
	}
	_, err := fmt.Fprintf(w, "%s (%s): %s entries\n", r.Operation, scope, humanize.Comma(int64(r.Count)))
	return err
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var del, all bool

	cmd := &cobra.Command{
		Use:   "enqueue <entity> [id...]",
		Short: "Append mutations to the queue",
		Long: `Append one INDEX (or, with --delete, DELETE) entry per identifier.

With --all every record of the entity type is enqueued synchronously, in
ordering key order. Use "session init" for large tables.

Identifiers of composite-key types are JSON objects, for example
'{"order_id":"7","line_no":"2"}'. Entity types that are not indexed are
skipped.`,
		Example: `  indexsync enqueue Customer 1 2 3
  indexsync enqueue Customer 4 --delete
  indexsync enqueue Customer --all`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, ids := args[0], args[1:]
			switch {
			case all && del:
				return NewExitError(ExitCommandError, "--all cannot be combined with --delete")
			case all && len(ids) > 0:
				return NewExitError(ExitCommandError, "--all takes no identifiers")
			case !all && len(ids) == 0:
				return NewExitError(ExitCommandError, "pass at least one identifier or --all")
			}

			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd.Context())
			out := rootOpts.formatter(cmd)

			if all {
				n, err := a.queue.EnqueueIndexAllFor(ctx, entity)
				if err != nil {
					return report(out, "failed to enqueue records", err)
				}
				return out.Success(QueueResult{Operation: "enqueue INDEX", Entity: entity, Count: n})
			}

			refs := make([]model.EntityRef, len(ids))
			for i, id := range ids {
				refs[i] = model.EntityRef{EntityName: entity, ID: id}
			}
			op := model.OpIndex
			enqueue := a.queue.EnqueueIndexByIDs
			if del {
				op = model.OpDelete
				enqueue = a.queue.EnqueueDeleteByIDs
			}
			n, err := enqueue(ctx, refs)
			if err != nil {
				return report(out, "failed to enqueue", err)
			}
			return out.Success(QueueResult{Operation: "enqueue " + string(op), Entity: entity, Count: n})
		},
	}

	cmd.Flags().BoolVar(&del, "delete", false, "enqueue DELETE instead of INDEX")
	cmd.Flags().BoolVar(&all, "all", false, "enqueue every record of the entity type")
	return cmd
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Apply the oldest batch of queue entries to the index",
		Long: `Read the oldest ready entries of the queue, apply them to the index grouped
by entity type and operation, and remove the applied entries. Groups the index
rejects stay queued and are hidden until their retry delay (queue.retry_backoff,
doubled per failed attempt) has passed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			n, err := a.queue.ProcessNextBatch(commandContext(cmd.Context()), size)
			if err != nil {
				return report(out, "failed to process batch", err)
			}
			return out.Success(QueueResult{Operation: "batch", Count: n})
		},
	}

	cmd.Flags().IntVarP(&size, "size", "n", 0, "batch size (default from config)")
	return cmd
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Apply batches until the queue is empty",
		Long: `Apply batches until no ready entry is left. Entries whose group the index
rejects are deferred and left in the queue; later entries are still applied.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			n, err := a.queue.ProcessEntireQueue(commandContext(cmd.Context()))
			if err != nil {
				return report(out, "failed to drain queue", err)
			}
			return out.Success(QueueResult{Operation: "drain", Count: n})
		},
	}
}

// NewEmptyCommand creates the empty command.
func NewEmptyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "empty [entity]",
		Short:         "Discard pending queue entries without applying them",
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
				n, err = a.queue.EmptyQueueFor(ctx, entity)
			} else {
				n, err = a.queue.EmptyQueue(ctx)
			}
			if err != nil {
				return report(out, "failed to empty queue", err)
			}
			return out.Success(QueueResult{Operation: "empty", Entity: entity, Count: n})
		},
	}
}
