package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_InMemoryKeepsState(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TABLE t (k TEXT, v INTEGER); INSERT INTO t VALUES ('a', 1);`))

	v, found, err := s.Lookup(ctx, "t", "k", "v", "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), v)
}

func TestClose_Nil(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestLookup_Values(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		column string
		key    any
		want   any
		found  bool
	}{
		{name: "text", column: "name", key: int64(7), want: "ann", found: true},
		{name: "int key from json", column: "name", key: 8, want: "bob", found: true},
		{name: "real", column: "score", key: int64(7), want: 2.5, found: true},
		{name: "integral real", column: "score", key: int64(8), want: int64(3), found: true},
		{name: "blob", column: "avatar", key: int64(7), want: "hi", found: true},
		{name: "null column", column: "note", key: int64(7), want: nil, found: true},
		{name: "primary key", column: "id", key: int64(8), want: int64(8), found: true},
		{name: "no row", column: "name", key: int64(9), want: nil, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found, err := s.Lookup(ctx, "users", "id", tt.column, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_InvalidIdentifiers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"users; DROP TABLE users", "1users", "", `us"ers`} {
		_, _, err := s.Lookup(ctx, id, "id", "name", 7)
		require.Error(t, err, id)
		assert.Contains(t, err.Error(), "invalid identifier")
	}

	// The table survives.
	v, found, err := s.Lookup(ctx, "users", "id", "name", 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ann", v)
}

func TestLookup_NonScalarKey(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.Lookup(context.Background(), "users", "id", "name", map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scalar")
}

func TestLookup_UnknownColumn(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.Lookup(context.Background(), "users", "id", "missing", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup users.missing")
}

func TestLookup_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Lookup(ctx, "users", "id", "name", 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExec_Error(t *testing.T) {
	s := createTestStore(t)

	err := s.Exec(context.Background(), "NOT SQL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec")
}
