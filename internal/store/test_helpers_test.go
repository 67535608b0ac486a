package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a fresh file-backed store seeded with a users table.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Exec(context.Background(), `
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL, avatar BLOB, note TEXT);
		INSERT INTO users (id, name, score, avatar, note) VALUES (7, 'ann', 2.5, x'6869', NULL);
		INSERT INTO users (id, name, score, avatar, note) VALUES (8, 'bob', 3.0, NULL, 'hi');
	`))
	return s
}
