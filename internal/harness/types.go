package harness

// Trace event types.
const (
	EventStep  = "step"
	EventWrite = "write"
)

// TraceEvent is one executed operation or one index write it caused.
type TraceEvent struct {
	Seq    int64    `json:"seq"`
	Type   string   `json:"type"` // "step" or "write"
	Op     string   `json:"op"`
	Entity string   `json:"entity,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Count  *int     `json:"count,omitempty"`
	OK     *bool    `json:"ok,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the steps and writes in execution order.
	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace adds an executed operation to the trace.
func (r *Result) AddStepTrace(step Step, count *int, ok *bool, err error, seq int64) {
	ev := TraceEvent{
		Seq:    seq,
		Type:   EventStep,
		Op:     step.Op,
		Entity: step.Entity,
		IDs:    step.IDs,
		Count:  count,
		OK:     ok,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}

// AddWriteTrace adds an index write to the trace.
func (r *Result) AddWriteTrace(op, entity string, ids []string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    seq,
		Type:   EventWrite,
		Op:     op,
		Entity: entity,
		IDs:    ids,
	})
}

// Writes returns the write events of the trace.
func (r *Result) Writes() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventWrite {
			out = append(out, ev)
		}
	}
	return out
}
