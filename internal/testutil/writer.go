package testutil

import (
	"context"
	"sync"
)

// WriteCall records one index writer call.
type WriteCall struct {
	Op     string // "INDEX" or "DELETE"
	Entity string
	IDs    []string
}

// RecordingWriter is an index writer that records calls and can fail on
// demand. Implements index.Writer.
//
// Thread-safety: safe for concurrent use.
type RecordingWriter struct {
	mu    sync.Mutex
	calls []WriteCall
	fail  map[string]error // entity -> error returned for every call
}

// NewRecordingWriter creates a writer that accepts every call.
func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{fail: make(map[string]error)}
}

// FailFor makes every call for entity return err. A nil err clears it.
func (w *RecordingWriter) FailFor(entity string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.fail, entity)
		return
	}
	w.fail[entity] = err
}

func (w *RecordingWriter) record(op, entity string, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail[entity]; err != nil {
		return err
	}
	w.calls = append(w.calls, WriteCall{Op: op, Entity: entity, IDs: append([]string(nil), ids...)})
	return nil
}

func (w *RecordingWriter) Index(_ context.Context, entity string, ids []string) error {
	return w.record("INDEX", entity, ids)
}

func (w *RecordingWriter) Delete(_ context.Context, entity string, ids []string) error {
	return w.record("DELETE", entity, ids)
}

// Calls returns a copy of the successful calls in order.
func (w *RecordingWriter) Calls() []WriteCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WriteCall(nil), w.calls...)
}

// Applied returns the ids successfully applied for entity and op, in order.
func (w *RecordingWriter) Applied(op, entity string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []string
	for _, c := range w.calls {
		if c.Op == op && c.Entity == entity {
			ids = append(ids, c.IDs...)
		}
	}
	return ids
}
