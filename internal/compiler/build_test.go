package compiler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objrewrite/internal/plugin"
	"github.com/roach88/objrewrite/internal/rewriter"
)

// fakeLookups serves lookups from a map keyed by table/match/column/key.
type fakeLookups struct {
	mu    sync.Mutex
	rows  map[any]any
	calls int
	err   error
}

func (f *fakeLookups) Lookup(_ context.Context, table, match, column string, key any) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.rows[key]
	return v, ok, nil
}

func buildRequest(t *testing.T, src string, lookups Lookuper, fields ...string) *rewriter.Request {
	t.Helper()
	cfg, err := CompileBytes("test.cue", []byte(src))
	require.NoError(t, err)
	mounts, err := Build(cfg, lookups)
	require.NoError(t, err)
	reg, err := rewriter.New(mounts, cfg.Source)
	require.NoError(t, err)
	req, err := reg.Init(fields)
	require.NoError(t, err)
	return req
}

func TestBuild_FilterSortValues(t *testing.T) {
	req := buildRequest(t, `
source: ["items.id", "items.score"]
mount: items: [
	{kind: "FILTER", requires: ["score"], expr: "value.score > 0"},
	{kind: "SORT", requires: ["score"], key: "-value.score", limit: "context.top"},
	{kind: "INJECT", fields: ["double"], requires: ["score"], values: double: "value.score * 2"},
]
`, nil, "items.id", "items.double")
	assert.Equal(t, []string{"items.id", "items.score"}, req.FieldsToRequest())

	tree := map[string]any{"items": []any{
		map[string]any{"id": 1, "score": 3},
		map[string]any{"id": 2, "score": 0},
		map[string]any{"id": 3, "score": 9},
		map[string]any{"id": 4, "score": 5},
	}}
	require.NoError(t, req.Rewrite(tree, map[string]any{"top": 2}))
	assert.Equal(t, []any{
		map[string]any{"id": 3, "double": int64(18)},
		map[string]any{"id": 4, "double": int64(10)},
	}, tree["items"])
}

func TestBuild_LimitNullMeansUnlimited(t *testing.T) {
	req := buildRequest(t, `
source: ["items.id"]
mount: items: [{kind: "SORT", key: "value.id", limit: "null"}]
`, nil, "items.id")

	tree := map[string]any{"items": []any{
		map[string]any{"id": 2}, map[string]any{"id": 1},
	}}
	require.NoError(t, req.Rewrite(tree, nil))
	assert.Equal(t, []any{map[string]any{"id": 1}, map[string]any{"id": 2}}, tree["items"])
}

func TestBuild_NonIntegerLimit(t *testing.T) {
	for _, limit := range []string{"1.5", "1e300", "'three'"} {
		t.Run(limit, func(t *testing.T) {
			req := buildRequest(t, `
source: ["items.id"]
mount: items: [{kind: "SORT", key: "value.id", limit: "`+limit+`"}]
`, nil, "items.id")

			err := req.Rewrite(map[string]any{"items": []any{map[string]any{"id": 1}}}, nil)
			require.Error(t, err)
			assert.True(t, rewriter.HasCode(err, rewriter.ErrCodeInvalidLimit))
			assert.ErrorIs(t, err, plugin.ErrInvalidLimit)
		})
	}
}

func TestBuild_LimitEvalFailure(t *testing.T) {
	req := buildRequest(t, `
source: ["items.id"]
mount: items: [{kind: "SORT", key: "value.id", limit: "context.top"}]
`, nil, "items.id")

	err := req.Rewrite(map[string]any{"items": []any{map[string]any{"id": 1}}}, map[string]any{})
	require.Error(t, err)
	assert.True(t, rewriter.HasCode(err, rewriter.ErrCodeCallbackFailed))
}

func TestBuild_Lookup(t *testing.T) {
	lookups := &fakeLookups{rows: map[any]any{int64(7): "ann"}}
	req := buildRequest(t, `
source: ["items.id", "items.ownerId"]
mount: items: [
	{kind: "INJECT", fields: ["owner"], lookup: {table: "users", match: "id", column: "name", key: "ownerId"}},
]
`, lookups, "items.id", "items.owner")
	assert.Equal(t, []string{"items.id", "items.ownerId"}, req.FieldsToRequest())

	tree := map[string]any{"items": []any{
		map[string]any{"id": 1, "ownerId": int64(7)},
		map[string]any{"id": 2, "ownerId": int64(8)},
		map[string]any{"id": 3},
	}}
	err := req.Rewrite(tree, nil)
	require.True(t, rewriter.IsAsyncRequiredError(err), "got %v", err)

	tree = map[string]any{"items": []any{
		map[string]any{"id": 1, "ownerId": int64(7)},
		map[string]any{"id": 2, "ownerId": int64(8)},
		map[string]any{"id": 3},
	}}
	require.NoError(t, req.RewriteAsync(context.Background(), tree, nil))
	assert.Equal(t, []any{
		map[string]any{"id": 1, "owner": "ann"},
		map[string]any{"id": 2, "owner": nil},
		map[string]any{"id": 3, "owner": nil},
	}, tree["items"])
	assert.Equal(t, 4, lookups.calls)
}

func TestBuild_LookupFailure(t *testing.T) {
	down := errors.New("db down")
	req := buildRequest(t, `
source: ["items.ownerId"]
mount: items: [
	{kind: "INJECT", fields: ["owner"], lookup: {table: "users", match: "id", column: "name", key: "ownerId"}},
]
`, &fakeLookups{err: down}, "items.owner")

	err := req.RewriteAsync(context.Background(), map[string]any{"items": []any{
		map[string]any{"ownerId": 1},
	}}, nil)
	require.Error(t, err)
	assert.True(t, rewriter.IsInjectFailedError(err))
	assert.ErrorIs(t, err, down)
}

func TestBuild_LookupNeedsDatabase(t *testing.T) {
	cfg, err := CompileBytes("test.cue", []byte(`
source: ["items.ownerId"]
mount: items: [
	{kind: "INJECT", fields: ["owner"], lookup: {table: "users", match: "id", column: "name", key: "ownerId"}},
]
`))
	require.NoError(t, err)
	_, err = Build(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need a database")
}

func TestBuild_ValidationErrors(t *testing.T) {
	_, err := Build(&Config{Mounts: []Mount{{Prefix: "x", Plugins: []PluginSpec{{Kind: "FILTER"}}}}}, nil)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), ErrNoSource)
	assert.Contains(t, err.Error(), ErrMissingBody)
}

func TestBuild_TargetsAndKinds(t *testing.T) {
	cfg, err := CompileBytes("test.cue", []byte(`
source: ["a", "items.id"]
mount: items: [
	{kind: "FILTER", target: "/a", expr: "true"},
	{kind: "INJECT", fields: ["x"], subtree: true, values: x: "1"},
]
`))
	require.NoError(t, err)
	mounts, err := Build(cfg, nil)
	require.NoError(t, err)
	require.Len(t, mounts["items"], 2)

	filter := mounts["items"][0]("items")
	assert.Equal(t, plugin.KindFilter, filter.Kind())
	assert.Equal(t, "a", filter.Target())

	inject := mounts["items"][1]("items")
	assert.Equal(t, []string{"items.x"}, inject.Targets())
	assert.True(t, inject.Subtree())
}
