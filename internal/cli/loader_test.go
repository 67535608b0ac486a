package cli

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_File(t *testing.T) {
	path := writeFile(t, t.TempDir(), "items.cue", itemsConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "items.id", "items.score", "items.ownerId"}, cfg.Source)
	require.Len(t, cfg.Mounts, 1)
	assert.Len(t, cfg.Mounts[0].Plugins, 4)
}

func TestLoadConfig_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "source.cue", "package config\n\nsource: [\"a\", \"list.b\"]\n")
	writeFile(t, dir, "mount.cue", "package config\n\nmount: list: [{kind: \"FILTER\", expr: \"true\"}]\n")
	writeFile(t, dir, "notes.txt", "not a cue file")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "list.b"}, cfg.Source)
	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, "list", cfg.Mounts[0].Prefix)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing", filepath.Join(dir, "missing.cue"), ErrCodeNotFound},
		{"empty dir", t.TempDir(), ErrCodeNoFiles},
		{"schema violation", writeFile(t, dir, "bad.cue", `source: "a"`), ErrCodeBuildFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path)
			require.Error(t, err)
			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.code, loadErr.Code)
		})
	}
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeNotFound, Message: "config not found: x.cue"}
	assert.Equal(t, "E005: config not found: x.cue", err.Error())
}

func TestNewEnvironment(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, t.TempDir(), "items.cue", itemsConfig))
	require.NoError(t, err)

	// Lookup plugins need a database.
	_, err = NewEnvironment(cfg, "", slog.Default())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	env, err := NewEnvironment(cfg, filepath.Join(t.TempDir(), "users.db"), slog.Default())
	require.NoError(t, err)
	defer env.Close()
	assert.Contains(t, env.Registry.AllowedFields(), "items.owner")
}

func TestEnvironment_CloseStopsRegistry(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, t.TempDir(), "items.cue", itemsConfig))
	require.NoError(t, err)

	env, err := NewEnvironment(cfg, filepath.Join(t.TempDir(), "users.db"), slog.Default())
	require.NoError(t, err)
	require.NoError(t, env.Close())

	req, err := env.Registry.Init([]string{"title"})
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, req.FieldsToRequest())
}

func TestEnvironment_CloseWithoutStore(t *testing.T) {
	env := &Environment{}
	assert.NoError(t, env.Close())
}
