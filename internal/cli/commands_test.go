package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmodel/internal/testutil"
)

func TestMigrateCommand_AppliesMigrations(t *testing.T) {
	dbPath := setupDB(t)

	stdout, _, err := execute(t, context.Background(), "migrate", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["version"])
}

func TestMigrateCommand_MissingDir(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := execute(t, context.Background(), "migrate", "--db", "app.db", "--dir", "nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueryCommand_IntrospectedTable(t *testing.T) {
	dbPath := setupDB(t)

	stdout, _, err := execute(t, context.Background(), "query", "--db", dbPath, "people", "--order-by", "id")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Alice")
	assert.Contains(t, stdout, "Bob")
	assert.Contains(t, stdout, "(2 rows)")
}

func TestQueryCommand_WithSchemaAndWhere(t *testing.T) {
	dbPath := setupDB(t)
	require.NoError(t, os.WriteFile("schema.yaml", []byte(peopleSchema), 0o644))

	stdout, _, err := execute(t, context.Background(),
		"query", "--db", dbPath, "--schema", "schema.yaml", "--format", "json",
		"Person", "name = ?", "Alice")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0]["name"])
	assert.Equal(t, float64(3), rows[0]["taps"])
}

func TestQueryCommand_Errors(t *testing.T) {
	dbPath := setupDB(t)

	_, _, err := execute(t, context.Background(), "query", "--db", dbPath, "Missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, context.Background(), "query", "--db", dbPath, "people", "no_such_column = 1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStatsCommand_JSON(t *testing.T) {
	dbPath := setupDB(t)
	require.NoError(t, os.WriteFile("schema.yaml", []byte(peopleSchema), 0o644))

	stdout, _, err := execute(t, context.Background(),
		"stats", "--db", dbPath, "--schema", "schema.yaml", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Types   []map[string]any   `json:"types"`
			Metrics map[string]float64 `json:"metrics"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data.Types, 1)
	assert.Equal(t, "Person", resp.Data.Types[0]["type"])
	assert.Equal(t, float64(2), resp.Data.Types[0]["rows"])

	var ops float64
	for k, v := range resp.Data.Metrics {
		if strings.HasPrefix(k, "rowmodel_queue_operations_total") {
			ops += v
		}
	}
	assert.Positive(t, ops)
}

func TestStatsCommand_Text(t *testing.T) {
	dbPath := setupDB(t)

	stdout, _, err := execute(t, context.Background(), "stats", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "(0 rows)")
	assert.Contains(t, stdout, "rowmodel_identity_map_entries")
}

// syncBuffer is written by the database worker and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchCommand_PrintsExternalChanges(t *testing.T) {
	dbPath := setupDB(t)
	require.NoError(t, os.WriteFile("schema.yaml", []byte(peopleSchema), 0o644))
	t.Setenv("ROWMODEL_WATCH_DEBOUNCE", "20ms")

	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch", "--db", dbPath, "--schema", "schema.yaml"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	tick := 0
	assert.Eventually(t, func() bool {
		// Leave quiet periods so the debounced watcher fires.
		if tick%5 == 0 {
			testutil.ExecExternal(t, dbPath, `UPDATE people SET taps = taps + 1 WHERE id = 1`)
		}
		tick++
		return strings.Contains(out.String(), `"kind":"update"`)
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	var line EventLine
	for _, l := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(l), &line))
		if line.Kind == "update" {
			break
		}
	}
	assert.Equal(t, "Person", line.Type)
	assert.Equal(t, []string{"taps"}, line.Fields)
	assert.Equal(t, []any{float64(1)}, line.Keys)
}
