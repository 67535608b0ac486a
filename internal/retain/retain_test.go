package retain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetain_TopLevel(t *testing.T) {
	tree := map[string]any{"a": 1, "b": 2}
	New([]string{"a"}).Retain(tree)
	assert.Equal(t, map[string]any{"a": 1}, tree)
}

func TestRetain_NestedAndArrays(t *testing.T) {
	tree := map[string]any{
		"id": "x",
		"items": []any{
			map[string]any{"id": 1, "score": 5, "secret": "s"},
			map[string]any{"id": 2, "score": 7, "secret": "t"},
		},
	}
	New([]string{"id", "items.id"}).Retain(tree)
	assert.Equal(t, map[string]any{
		"id": "x",
		"items": []any{
			map[string]any{"id": 1},
			map[string]any{"id": 2},
		},
	}, tree)
}

func TestRetain_NestedArraysAreTransparent(t *testing.T) {
	tree := map[string]any{
		"grid": []any{
			[]any{map[string]any{"v": 1, "w": 2}},
			[]any{map[string]any{"v": 3, "w": 4}},
		},
	}
	New([]string{"grid.v"}).Retain(tree)
	assert.Equal(t, map[string]any{
		"grid": []any{
			[]any{map[string]any{"v": 1}},
			[]any{map[string]any{"v": 3}},
		},
	}, tree)
}

func TestRetain_ContainerKeepsSubtree(t *testing.T) {
	tree := map[string]any{
		"meta":  map[string]any{"a": 1, "b": map[string]any{"c": 2}},
		"other": true,
	}
	New([]string{"meta."}).Retain(tree)
	assert.Equal(t, map[string]any{
		"meta": map[string]any{"a": 1, "b": map[string]any{"c": 2}},
	}, tree)
}

func TestRetain_LeafWinsOverDeeperPath(t *testing.T) {
	tree := map[string]any{"a": map[string]any{"b": 1, "c": 2}}
	New([]string{"a.b", "a"}).Retain(tree)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1, "c": 2}}, tree)
}

func TestRetain_MissingPathsAreIgnored(t *testing.T) {
	tree := map[string]any{"a": 1}
	New([]string{"a", "x.y"}).Retain(tree)
	assert.Equal(t, map[string]any{"a": 1}, tree)
}

func TestRetain_ScalarOnIntermediatePath(t *testing.T) {
	tree := map[string]any{"a": 1, "b": 2}
	New([]string{"a.b"}).Retain(tree)
	assert.Equal(t, map[string]any{"a": 1}, tree)
}

func TestRetain_NoFields(t *testing.T) {
	tree := map[string]any{"a": 1}
	New(nil).Retain(tree)
	assert.Empty(t, tree)
}

func TestRetain_Idempotent(t *testing.T) {
	r := New([]string{"items.id"})
	tree := map[string]any{"items": []any{map[string]any{"id": 1, "x": 2}}}
	r.Retain(tree)
	first := map[string]any{"items": []any{map[string]any{"id": 1}}}
	assert.Equal(t, first, tree)
	r.Retain(tree)
	assert.Equal(t, first, tree)
}

func TestRetainer_Fields(t *testing.T) {
	r := New([]string{"a", "b.c"})
	assert.Equal(t, []string{"a", "b.c"}, r.Fields())
}
