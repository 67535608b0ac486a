// Package plugin defines the three plugin kinds driven by the rewriter.
//
// A plugin is declared once as a Factory and instantiated per mount point:
// the factory receives the mount prefix and resolves its relative paths
// against it. Every instance governs one path (Target) and declares the
// fields it needs as input (Requires).
//
//   - FILTER plugins decide whether a node survives.
//   - INJECT plugins add synthetic fields, optionally through asynchronous work.
//   - SORT plugins order array elements by a computed key and may cap the
//     array length.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/objrewrite/internal/fieldpath"
)

// Kind identifies a plugin's role in the pipeline.
type Kind int

const (
	KindFilter Kind = iota + 1
	KindInject
	KindSort
)

func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "FILTER"
	case KindInject:
		return "INJECT"
	case KindSort:
		return "SORT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses "FILTER", "INJECT" or "SORT".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "FILTER":
		return KindFilter, nil
	case "INJECT":
		return KindInject, nil
	case "SORT":
		return KindSort, nil
	}
	return 0, fmt.Errorf("unknown plugin kind %q", s)
}

// Args is passed to every plugin callback.
type Args struct {
	// Path is the node's full path; array indices are ints.
	Path []any
	// Value is the node itself.
	Value any
	// Parents lists the containers above the node, nearest first.
	Parents []any
	// Context is the caller's rewrite context for this run.
	Context any
}

// Commit applies the result of finished asynchronous work to the tree. Commits
// run sequentially on the caller's goroutine.
type Commit func()

// Thunk is deferred inject work. It may block and run concurrently with other
// thunks; it must not touch the tree and instead returns a Commit that does.
// A nil Commit is allowed.
type Thunk func(ctx context.Context) (Commit, error)

type (
	FilterFunc func(a Args) (bool, error)
	InjectFunc func(a Args) ([]Thunk, error)
	SortFunc   func(a Args) (any, error)
	// LimitFunc returns the maximum array length, or false for no limit.
	LimitFunc  func(rc any) (int, bool, error)
)

// ErrInvalidLimit marks a LimitFunc error caused by a limit value that is not
// a usable length, as opposed to a failing callback.
var ErrInvalidLimit = errors.New("invalid limit")

// Plugin is an instantiated plugin. Implementations are *Filter, *Inject and
// *Sort.
type Plugin interface {
	Kind() Kind
	// Target is the governed path. In container form ("items.") it governs
	// the path and every descendant.
	Target() string
	// Targets lists the leaf paths produced or governed.
	Targets() []string
	// Requires lists the input fields.
	Requires() []string
	// Subtree reports whether the plugin governs the whole subtree under its
	// container. Only INJECT plugins may report false.
	Subtree() bool
	// Pattern is the traversal pattern derived from Target.
	Pattern() string
	// Validate reports an incomplete declaration.
	Validate() error
}

// Factory instantiates a plugin for a mount prefix.
type Factory func(prefix string) Plugin

var errNoCallback = errors.New("missing callback")

type base struct {
	kind     Kind
	target   string
	targets  []string
	requires []string
	subtree  bool
}

func (b *base) Kind() Kind { return b.kind }
func (b *base) Target() string { return b.target }
func (b *base) Targets() []string { return slices.Clone(b.targets) }
func (b *base) Requires() []string { return slices.Clone(b.requires) }
func (b *base) Subtree() bool { return b.subtree }
func (b *base) Pattern() string { return fieldpath.Trim(b.target) }
func (b *base) String() string { return b.kind.String() + " " + b.target }

// resolveTarget joins a relative target onto the prefix. An empty target or
// one ending with the separator resolves to a container.
func resolveTarget(prefix, rel string) string {
	p := fieldpath.Join(prefix, fieldpath.Trim(rel))
	if rel == "" || rel == "/" || fieldpath.IsContainer(rel) {
		return fieldpath.Container(p)
	}
	return p
}

func resolveAll(prefix string, rels []string) []string {
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, fieldpath.Join(prefix, r))
	}
	return out
}
