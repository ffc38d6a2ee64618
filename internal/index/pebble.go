package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/indexsync/internal/metadata"
)

// RecordLoader reads records from the record store.
type RecordLoader interface {
	LoadRecord(ctx context.Context, et metadata.EntityType, id string) (map[string]any, bool, error)
}

// Document is the stored form of one indexed record.
type Document struct {
	EntityName string         `json:"entity"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
	IndexedAt  time.Time      `json:"indexed_at"`
}

// PebbleWriter is a Writer backed by a pebble database.
//
// Thread-safety: PebbleWriter is safe for concurrent use.
type PebbleWriter struct {
	db      *pebble.DB
	records RecordLoader
	types   *metadata.Registry
	now     func() time.Time
}

var _ Writer = (*PebbleWriter)(nil)

// OpenPebble opens (or creates) the index at dir.
func OpenPebble(dir string, records RecordLoader, types *metadata.Registry) (*PebbleWriter, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", dir, err)
	}
	slog.Debug("index opened", "dir", dir)
	return &PebbleWriter{
		db:      db,
		records: records,
		types:   types,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the index. Safe to call multiple times.
func (w *PebbleWriter) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

// Metrics returns the storage metrics of the underlying database.
func (w *PebbleWriter) Metrics() *pebble.Metrics {
	return w.db.Metrics()
}

// docPrefix is unique per type: entity names cannot contain '/'.
func docPrefix(entityName string) []byte {
	return []byte("doc/" + entityName + "/")
}

func docKey(entityName, id string) []byte {
	return append(docPrefix(entityName), id...)
}

// Index implements Writer.
func (w *PebbleWriter) Index(ctx context.Context, entityName string, ids []string) error {
	et, err := w.types.Get(entityName)
	if err != nil {
		return fmt.Errorf("index %s: %w", entityName, err)
	}

	batch := w.db.NewBatch()
	defer batch.Close()

	at := w.now()
	for _, id := range ids {
		fields, ok, err := w.records.LoadRecord(ctx, et, id)
		if err != nil {
			return fmt.Errorf("index %s/%s: %w", entityName, id, err)
		}
		key := docKey(entityName, id)
		if !ok {
			// The record was deleted after it was enqueued
			if err := batch.Delete(key, nil); err != nil {
				return fmt.Errorf("index %s/%s: %w", entityName, id, err)
			}
			continue
		}

		data, err := json.Marshal(Document{EntityName: entityName, ID: id, Fields: fields, IndexedAt: at})
		if err != nil {
			return fmt.Errorf("index %s/%s: marshal: %w", entityName, id, err)
		}
		if err := batch.Set(key, data, nil); err != nil {
			return fmt.Errorf("index %s/%s: %w", entityName, id, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("index %s: commit: %w", entityName, err)
	}
	return nil
}

// Delete implements Writer.
func (w *PebbleWriter) Delete(_ context.Context, entityName string, ids []string) error {
	batch := w.db.NewBatch()
	defer batch.Close()

	for _, id := range ids {
		if err := batch.Delete(docKey(entityName, id), nil); err != nil {
			return fmt.Errorf("delete %s/%s: %w", entityName, id, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: commit: %w", entityName, err)
	}
	return nil
}

// Get returns the stored document of one record.
// Returns (nil, false, nil) if the record is not indexed.
func (w *PebbleWriter) Get(entityName, id string) (*Document, bool, error) {
	data, closer, err := w.db.Get(docKey(entityName, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", entityName, id, err)
	}
	defer closer.Close()

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("get %s/%s: unmarshal: %w", entityName, id, err)
	}
	return &doc, true, nil
}

// Count returns the number of documents indexed for an entity type.
func (w *PebbleWriter) Count(entityName string) (int, error) {
	prefix := docPrefix(entityName)
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++ // '/' + 1

	iter, err := w.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", entityName, err)
	}
	defer iter.Close()

	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}
