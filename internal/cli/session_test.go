package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/model"
	"github.com/roach88/indexsync/internal/store"
)

func TestSessionCommand_Lifecycle(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("session", "init", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "init Customer: ok\n", out)

	out, err = e.run("session", "process", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "process Customer: ok, 2 enqueued\n", out)

	out, err = e.run("session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Customer")
	assert.Contains(t, out, "EXECUTE")
	assert.Contains(t, out, "cursor=2")

	out, err = e.run("session", "suspend", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "suspend Customer: ok\n", out)

	out, err = e.run("session", "process")
	require.NoError(t, err)
	assert.Equal(t, "process (next): ok, 0 enqueued\n", out)

	out, err = e.run("session", "resume", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "resume Customer: ok\n", out)

	// Short page ends the scan
	out, err = e.run("session", "process", "-n", "10")
	require.NoError(t, err)
	assert.Equal(t, "process (next): ok, 3 enqueued\n", out)

	out, err = e.run("session", "list")
	require.NoError(t, err)
	assert.Equal(t, "No enqueueing sessions.\n", out)

	n, err := e.openStore(t).CountQueue(context.Background(), "Customer", model.OpIndex)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSessionCommand_StopRemovesOnNextPage(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("session", "init", "Customer")
	require.NoError(t, err)
	_, err = e.run("session", "stop", "Customer")
	require.NoError(t, err)

	out, err := e.run("session", "process", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "process Customer: ok, 0 enqueued\n", out)

	sess, err := e.openStore(t).LoadSession(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSessionCommand_Remove(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run("session", "init", "Customer")
	require.NoError(t, err)

	out, err := e.run("session", "remove", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "remove Customer: ok\n", out)

	_, err = e.run("session", "remove", "Customer")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSessionCommand_Refused(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("session", "suspend", "Customer")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")

	// Stopped sessions cannot be resumed
	_, err = e.run("session", "init", "Customer")
	require.NoError(t, err)
	_, err = e.run("session", "stop", "Customer")
	require.NoError(t, err)
	_, err = e.run("session", "resume", "Customer")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSessionCommand_LockSharedWithOtherProcesses(t *testing.T) {
	e := newCLIEnv(t)
	ctx := context.Background()

	_, err := e.run("session", "init", "Customer")
	require.NoError(t, err)

	// A scheduler in another process holds the session lease
	other := store.NewLeaseLocker(e.openStore(t))
	lease, err := other.TryLock(ctx, "enqueueing-session/Customer", time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	_, err = e.run("session", "suspend", "Customer")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	require.NoError(t, lease.Unlock(ctx))
	out, err := e.run("session", "suspend", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "suspend Customer: ok\n", out)
}

func TestSessionCommand_InitErrors(t *testing.T) {
	e := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"not_indexed", []string{"session", "init", "AuditLog"}},
		{"unknown", []string{"session", "init", "Nope"}},
		{"no_args", []string{"session", "init"}},
		{"args_and_all", []string{"session", "init", "Customer", "--all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestSessionCommand_InitAll(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("session", "init", "--all")
	require.NoError(t, err)
	assert.Equal(t, "init (all): 1 session(s) started\n", out)

	sessions, err := e.openStore(t).ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Customer", sessions[0].EntityName)
	assert.Equal(t, "id", sessions[0].OrderingKey)
}

func TestSessionCommand_JSON(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("--format", "json", "session", "init", "Customer")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   []SessionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []SessionResult{{Operation: "init", Entity: "Customer", OK: true}}, resp.Data)

	out, err = e.run("--format", "json", "session", "process", "Customer")
	require.NoError(t, err)

	var processed struct {
		Data SessionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &processed))
	require.NotNil(t, processed.Data.Enqueued)
	assert.Equal(t, 2, *processed.Data.Enqueued)
}
