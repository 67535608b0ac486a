package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const itemsConfig = `
source: ["title", "items.id", "items.score", "items.ownerId"]

mount: items: [
	{kind: "FILTER", requires: ["score"], expr: "value.score > 0"},
	{kind: "SORT", requires: ["score"], key: "-value.score", limit: "context.top"},
	{kind: "INJECT", fields: ["double"], requires: ["score"], values: double: "double(value.score) * 2.0"},
	{kind: "INJECT", fields: ["owner"], lookup: {table: "users", match: "id", column: "name", key: "ownerId"}},
]
`

const itemsInput = `{
	"title": "Top",
	"author": "nobody",
	"items": [
		{"id": 1, "score": 3, "ownerId": 7},
		{"id": 2, "score": 0},
		{"id": 3, "score": 9},
		{"id": 4, "score": 5}
	]
}`

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns stdout and the command error.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
