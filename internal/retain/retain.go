// Package retain prunes a tree down to a set of field paths.
package retain

import (
	"slices"

	"github.com/roach88/objrewrite/internal/fieldpath"
)

// Retainer keeps the requested field paths of a tree and deletes everything
// else. It is immutable once built and safe for concurrent use.
type Retainer struct {
	root   *node
	fields []string
}

type node struct {
	children map[string]*node
	// keep marks a requested path: its whole subtree survives.
	keep bool
}

// New builds a Retainer for fields. A path in container form ("items.")
// behaves like the plain path: the subtree below it is kept whole.
func New(fields []string) *Retainer {
	r := &Retainer{root: &node{}, fields: slices.Clone(fields)}
	for _, f := range fields {
		n := r.root
		for _, k := range fieldpath.Split(f) {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			next, ok := n.children[k]
			if !ok {
				next = &node{}
				n.children[k] = next
			}
			n = next
		}
		n.keep = true
	}
	return r
}

// Fields returns the paths the retainer was built from.
func (r *Retainer) Fields() []string {
	return slices.Clone(r.fields)
}

// Retain prunes tree in place. Object members outside the requested paths
// are deleted; arrays are transparent and every element is pruned against
// the array's path. Scalars found where an object was expected are left
// untouched.
func (r *Retainer) Retain(tree map[string]any) {
	prune(tree, r.root)
}

func prune(v any, n *node) {
	if n.keep {
		return
	}
	switch c := v.(type) {
	case map[string]any:
		for k, child := range c {
			next, ok := n.children[k]
			if !ok {
				delete(c, k)
				continue
			}
			prune(child, next)
		}
	case []any:
		for _, elem := range c {
			prune(elem, n)
		}
	}
}
