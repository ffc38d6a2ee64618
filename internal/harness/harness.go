package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/indexsync/internal/engine"
	"github.com/roach88/indexsync/internal/lock"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
	"github.com/roach88/indexsync/internal/store"
	"github.com/roach88/indexsync/internal/testutil"
)

// errWriteRejected is returned by the index writer for fail_writes types.
var errWriteRejected = errors.New("index write rejected")

// Harness is the scenario execution environment.
type Harness struct {
	store  *store.Store
	queue  *engine.QueueManager
	writer *testutil.RecordingWriter

	seq     int64
	written int // writer calls already traced
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory with
// a deterministic clock and an in-process lock registry.
//
// Execution flow:
// 1. Create the database, record tables and records
// 2. Wire the engine to a recording index writer
// 3. Execute setup steps (any error aborts)
// 4. Execute flow steps with expect validation
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "indexsync-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := seed(ctx, st, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed records: %w", err)
	}

	types, err := metadata.NewRegistry(scenario.Entities...)
	if err != nil {
		return nil, fmt.Errorf("invalid entities: %w", err)
	}

	writer := testutil.NewRecordingWriter()
	for _, name := range scenario.FailWrites {
		writer.FailFor(name, errWriteRejected)
	}

	sessions := engine.NewSessionManager(st, engine.NewIDLoader(st), types, lock.NewRegistry(),
		engine.WithClock(testutil.NewDeterministicClock()),
	)
	h := &Harness{
		store: st,
		queue: engine.NewQueueManager(st, sessions, writer,
			engine.WithSessionPageSize(scenario.PageSize),
			engine.WithBatchSize(scenario.BatchSize),
		),
		writer: writer,
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// seed creates the record tables and inserts the records.
// Tables are filled in name order, columns in name order.
func seed(ctx context.Context, st *store.Store, scenario *Scenario) error {
	for _, stmt := range scenario.Schema {
		if _, err := st.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	tables := make([]string, 0, len(scenario.Records))
	for table := range scenario.Records {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		for _, row := range scenario.Records[table] {
			cols := make([]string, 0, len(row))
			for col := range row {
				cols = append(cols, col)
			}
			sort.Strings(cols)

			args := make([]any, len(cols))
			for i, col := range cols {
				args[i] = toSQLValue(row[col])
			}
			query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
			if _, err := st.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("insert into %s: %w", table, err)
			}
		}
	}
	return nil
}

// executeSetup runs the setup steps. Setup steps are assumed to succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []Step, result *Result) error {
	for i, step := range setup {
		if _, _, err := h.execute(ctx, step, result); err != nil {
			return fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
	}
	return nil
}

// executeFlow runs the flow steps and checks their expect clauses.
// A failing step is recorded and the flow continues.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) {
	for i, step := range flow {
		count, ok, err := h.execute(ctx, step, result)
		prefix := fmt.Sprintf("flow[%d] %s", i, step.Op)

		exp := step.Expect
		if exp == nil {
			if err != nil {
				result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
			}
			continue
		}

		if exp.Error != "" {
			if err == nil || !strings.Contains(err.Error(), exp.Error) {
				result.AddError(fmt.Sprintf("%s: expected error containing %q, got %v", prefix, exp.Error, err))
			}
			continue
		}
		if err != nil {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
			continue
		}
		if exp.Count != nil && (count == nil || *count != *exp.Count) {
			result.AddError(fmt.Sprintf("%s: expected count %d, got %s", prefix, *exp.Count, formatInt(count)))
		}
		if exp.OK != nil && (ok == nil || *ok != *exp.OK) {
			result.AddError(fmt.Sprintf("%s: expected ok=%t, got %s", prefix, *exp.OK, formatBool(ok)))
		}
	}
}

// execute applies one step and traces it along with the writes it caused.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) (*int, *bool, error) {
	count, ok, err := h.apply(ctx, step)

	h.seq++
	result.AddStepTrace(step, count, ok, err, h.seq)

	calls := h.writer.Calls()
	for _, c := range calls[h.written:] {
		h.seq++
		result.AddWriteTrace(c.Op, c.Entity, c.IDs, h.seq)
	}
	h.written = len(calls)

	return count, ok, err
}

// apply dispatches a step to the queue manager. Exactly one of the count and
// ok results is set on success.
func (h *Harness) apply(ctx context.Context, step Step) (*int, *bool, error) {
	q := h.queue

	var ok bool
	var err error
	switch step.Op {
	case OpInit:
		ok, err = q.InitAsyncEnqueueIndexAllFor(ctx, step.Entity, step.Restart)
	case OpSuspend:
		ok, err = q.SuspendAsyncEnqueueIndexAll(ctx, step.Entity)
	case OpResume:
		ok, err = q.ResumeAsyncEnqueueIndexAll(ctx, step.Entity)
	case OpStop:
		ok, err = q.StopAsyncEnqueueIndexAll(ctx, step.Entity)
	case OpRemove:
		ok, err = q.RemoveEnqueueingSession(ctx, step.Entity)
	default:
		n, err := h.applyCount(ctx, step)
		if err != nil {
			return nil, nil, err
		}
		return &n, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return nil, &ok, nil
}

func (h *Harness) applyCount(ctx context.Context, step Step) (int, error) {
	q := h.queue
	switch step.Op {
	case OpInitAll:
		return q.InitAsyncEnqueueIndexAll(ctx)
	case OpProcess:
		if step.Entity == "" {
			return q.ProcessNextEnqueueingSession(ctx, step.N)
		}
		return q.ProcessEnqueueingSession(ctx, step.Entity, step.N)
	case OpEnqueueIndex:
		return q.EnqueueIndexByIDs(ctx, refs(step))
	case OpEnqueueDelete:
		return q.EnqueueDeleteByIDs(ctx, refs(step))
	case OpEnqueueAll:
		if step.Entity == "" {
			return q.EnqueueIndexAll(ctx)
		}
		return q.EnqueueIndexAllFor(ctx, step.Entity)
	case OpBatch:
		return q.ProcessNextBatch(ctx, step.N)
	case OpDrain:
		return q.ProcessEntireQueue(ctx)
	case OpEmpty:
		if step.Entity == "" {
			return q.EmptyQueue(ctx)
		}
		return q.EmptyQueueFor(ctx, step.Entity)
	default:
		return 0, fmt.Errorf("unknown op %q", step.Op)
	}
}

func refs(step Step) []model.EntityRef {
	out := make([]model.EntityRef, len(step.IDs))
	for i, id := range step.IDs {
		out[i] = model.EntityRef{EntityName: step.Entity, ID: id}
	}
	return out
}

func formatInt(p *int) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprint(*p)
}

func formatBool(p *bool) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprint(*p)
}
