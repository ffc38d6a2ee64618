package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/index"
	"github.com/roach88/indexsync/internal/metadata"
	"github.com/roach88/indexsync/internal/model"
)

func TestEnqueueCommand(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("enqueue", "Customer", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "enqueue INDEX (Customer): 2 entries\n", out)

	out, err = e.run("enqueue", "Customer", "9", "--delete")
	require.NoError(t, err)
	assert.Equal(t, "enqueue DELETE (Customer): 1 entries\n", out)

	// Non-indexed types are skipped
	out, err = e.run("enqueue", "AuditLog", "1")
	require.NoError(t, err)
	assert.Equal(t, "enqueue INDEX (AuditLog): 0 entries\n", out)

	out, err = e.run("enqueue", "Customer", "--all")
	require.NoError(t, err)
	assert.Equal(t, "enqueue INDEX (Customer): 5 entries\n", out)

	st := e.openStore(t)
	ctx := context.Background()
	n, err := st.CountQueue(ctx, "Customer", model.OpIndex)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = st.CountQueue(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestEnqueueCommand_Errors(t *testing.T) {
	e := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no_ids", []string{"enqueue", "Customer"}},
		{"all_with_ids", []string{"enqueue", "Customer", "1", "--all"}},
		{"all_with_delete", []string{"enqueue", "Customer", "--all", "--delete"}},
		{"all_not_indexed", []string{"enqueue", "AuditLog", "--all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestBatchAndDrainCommands(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("enqueue", "Customer", "1", "2", "3", "4")
	require.NoError(t, err)
	_, err = e.run("enqueue", "Customer", "4", "--delete")
	require.NoError(t, err)

	out, err := e.run("batch")
	require.NoError(t, err)
	assert.Equal(t, "batch (all entity types): 3 entries\n", out)

	out, err = e.run("drain")
	require.NoError(t, err)
	assert.Equal(t, "drain (all entity types): 2 entries\n", out)

	out, err = e.run("drain")
	require.NoError(t, err)
	assert.Equal(t, "drain (all entity types): 0 entries\n", out)

	st := e.openStore(t)
	types := metadata.MustRegistry(metadata.EntityType{
		EntityName: "Customer",
		Table:      "customers",
		KeyColumns: []string{"id"},
		Indexed:    true,
	})
	w, err := index.OpenPebble(filepath.Join(e.dir, "index"), st, types)
	require.NoError(t, err)
	defer w.Close()

	doc, ok, err := w.Get("Customer", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "customer-1", doc.Fields["name"])

	// 4 was indexed, then deleted
	_, ok, err = w.Get("Customer", "4")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := w.Count("Customer")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBatchCommand_Size(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("enqueue", "Customer", "--all")
	require.NoError(t, err)

	out, err := e.run("batch", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, "batch (all entity types): 1 entries\n", out)
}

func TestEmptyCommand(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("enqueue", "Customer", "1", "2")
	require.NoError(t, err)
	_, err = e.run("enqueue", "Customer", "3", "--delete")
	require.NoError(t, err)

	out, err := e.run("empty", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "empty (Customer): 3 entries\n", out)

	_, err = e.run("enqueue", "Customer", "1")
	require.NoError(t, err)

	out, err = e.run("empty")
	require.NoError(t, err)
	assert.Equal(t, "empty (all entity types): 1 entries\n", out)
}
