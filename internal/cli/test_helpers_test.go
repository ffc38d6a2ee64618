package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/indexsync/internal/store"
)

const configTemplate = `database: %s
index_dir: %s

lock:
  timeout: 50ms

sessions:
  page_size: 2

queue:
  batch_size: 3

metrics:
  listen: %q

entities:
  - name: Customer
    table: customers
    key: [id]
    indexed: true
  - name: AuditLog
    table: audit_log
    key: [id]
    indexed: false
`

// cliEnv is a temp directory holding a config file and a record database
// with five customers.
type cliEnv struct {
	dir    string
	db     string
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return newCLIEnvWithMetrics(t, "")
}

func newCLIEnvWithMetrics(t *testing.T, listen string) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	e := &cliEnv{
		dir:    dir,
		db:     filepath.Join(dir, "records.db"),
		config: filepath.Join(dir, "indexsync.yaml"),
	}

	st, err := store.Open(e.db)
	require.NoError(t, err)
	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE audit_log (id INTEGER PRIMARY KEY, message TEXT)`,
	} {
		_, err := st.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	for i := 1; i <= 5; i++ {
		_, err := st.Exec(ctx, `INSERT INTO customers (id, name) VALUES (?, ?)`, i, fmt.Sprintf("customer-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	cfg := fmt.Sprintf(configTemplate, e.db, filepath.Join(dir, "index"), listen)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o644))
	return e
}

// run executes the root command against the environment's config.
func (e *cliEnv) run(args ...string) (string, error) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"-c", e.config, "--env-file", filepath.Join(e.dir, ".env")}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

// openStore opens the environment's database for seeding or inspection.
func (e *cliEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}
