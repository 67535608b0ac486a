package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objrewrite/internal/store"
)

// createUsersDB writes a users database with a single row (7, "ann").
func createUsersDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Exec(context.Background(), `
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (id, name) VALUES (7, 'ann');
	`))
	require.NoError(t, st.Close())
	return path
}

func TestRewrite_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "items.cue", itemsConfig)
	input := writeFile(t, dir, "tree.json", itemsInput)

	out, err := execute(NewRewriteCommand(&RootOptions{Format: "text"}), cfg,
		"--fields", "title,items.id,items.double",
		"--input", input,
		"--context", `{"top": 2}`)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{
		"title": "Top",
		"items": []any{
			map[string]any{"id": float64(3), "double": float64(18)},
			map[string]any{"id": float64(4), "double": float64(10)},
		},
	}, got)
	assert.True(t, strings.HasPrefix(out, "{\n  \"items\": ["), "output is indented canonical JSON")
}

func TestRewrite_StdinAsyncLookupJSON(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "items.cue", itemsConfig)
	db := createUsersDB(t)

	cmd := NewRewriteCommand(&RootOptions{Format: "json"})
	cmd.SetIn(strings.NewReader(itemsInput))
	out, err := execute(cmd, cfg,
		"--fields", "items.id,items.owner",
		"--context", `{"top": 10}`,
		"--db", db,
		"--async")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Fetch  []string       `json:"fetch"`
			Output map[string]any `json:"output"`
		} `json:"data"`
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	_, err = uuid.Parse(resp.RunID)
	assert.NoError(t, err, "run_id %q", resp.RunID)
	assert.Equal(t, []string{"items.id", "items.score", "items.ownerId"}, resp.Data.Fetch)
	assert.Equal(t, map[string]any{
		"items": []any{
			map[string]any{"id": float64(3), "owner": nil},
			map[string]any{"id": float64(4), "owner": nil},
			map[string]any{"id": float64(1), "owner": "ann"},
		},
	}, resp.Data.Output)
}

func TestRewrite_AsyncRequired(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "items.cue", itemsConfig)
	db := createUsersDB(t)

	cmd := NewRewriteCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader(itemsInput))
	out, err := execute(cmd, cfg, "--fields", "items.owner", "--context", `{"top": 10}`, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Contains(t, out, "Error [ASYNC_REQUIRED]")
}

func TestRewrite_ErrorCarriesRunID(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "items.cue", itemsConfig)
	db := createUsersDB(t)

	cmd := NewRewriteCommand(&RootOptions{Format: "json"})
	cmd.SetIn(strings.NewReader(itemsInput))
	out, err := execute(cmd, cfg, "--fields", "items.owner", "--context", `{"top": 10}`, "--db", db)
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ASYNC_REQUIRED", resp.Error.Code)
	assert.Len(t, resp.RunID, 36)
}

func TestRewrite_InvalidFieldHasNoRunID(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "items.cue", itemsConfig)

	cmd := NewRewriteCommand(&RootOptions{Format: "json"})
	cmd.SetIn(strings.NewReader(itemsInput))
	out, err := execute(cmd, cfg, "--fields", "items.nope")
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_FIELD", resp.Error.Code)
	assert.Empty(t, resp.RunID)
}

func TestRewrite_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "items.cue", itemsConfig)
	input := writeFile(t, dir, "tree.json", itemsInput)

	tests := []struct {
		name     string
		args     []string
		stdin    string
		exitCode int
		wantOut  string
	}{
		{
			name:     "invalid field",
			args:     []string{cfg, "--fields", "nope", "--input", input, "--db", createUsersDB(t)},
			exitCode: ExitFailure,
			wantOut:  "Error [INVALID_FIELD]",
		},
		{
			name:     "input not an object",
			args:     []string{cfg, "--fields", "title"},
			stdin:    `[1, 2]`,
			exitCode: ExitCommandError,
			wantOut:  "Error [E007]",
		},
		{
			name:     "input missing",
			args:     []string{cfg, "--fields", "title", "--input", filepath.Join(dir, "missing.json")},
			exitCode: ExitCommandError,
			wantOut:  "failed to open input",
		},
		{
			name:     "bad context",
			args:     []string{cfg, "--fields", "title", "--input", input, "--context", "{"},
			exitCode: ExitCommandError,
			wantOut:  "context:",
		},
		{
			name:     "lookups without database",
			args:     []string{cfg, "--fields", "title", "--input", input},
			exitCode: ExitFailure,
			wantOut:  "need a database",
		},
		{
			name:     "config missing",
			args:     []string{filepath.Join(dir, "missing.cue"), "--fields", "title"},
			exitCode: ExitCommandError,
			wantOut:  "Error [E005]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRewriteCommand(&RootOptions{Format: "text"})
			cmd.SetIn(strings.NewReader(tt.stdin))
			out, err := execute(cmd, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, ExitCode(err))
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestRewrite_FieldsRequired(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "items.cue", itemsConfig)

	_, err := execute(NewRewriteCommand(&RootOptions{Format: "text"}), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields")
}

func TestReadInput(t *testing.T) {
	tree, err := readInput("-", strings.NewReader(`{"a": 1.0, "b": [2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": []any{2.5}}, tree)
}
