package scan

import (
	"errors"
	"fmt"
	"slices"
)

// ErrRemoveRoot is returned by Node.Remove for the root object.
var ErrRemoveRoot = errors.New("scan: cannot remove the root object")

// Node is a matching node handed to a Handler. It is only valid for the
// duration of the handler call.
type Node struct {
	// Path is the full key path: object keys are strings, array indices ints.
	Path []any
	// Value is the node's value.
	Value any
	// Parents holds the containers above the node, nearest first; Parents[0]
	// is the object or array holding Value. Empty for the root.
	Parents []any
	// MatchedBy lists every pattern matching this node, best match first.
	MatchedBy []string

	parent *frame
}

// Key returns the last element of Path: a string for object members, an int
// for array elements, nil for the root.
func (n *Node) Key() any {
	if len(n.Path) == 0 {
		return nil
	}
	return n.Path[len(n.Path)-1]
}

// Index returns the node's array index when its parent is an array.
func (n *Node) Index() (int, bool) {
	i, ok := n.Key().(int)
	return i, ok
}

// Remove deletes the node from its parent: object members are deleted,
// array elements are spliced out.
func (n *Node) Remove() error {
	if n.parent == nil {
		return ErrRemoveRoot
	}
	switch p := n.parent.value.(type) {
	case map[string]any:
		delete(p, n.Key().(string))
		return nil
	case []any:
		i, ok := n.Index()
		if !ok || i >= len(p) {
			return fmt.Errorf("scan: element %v no longer in parent", n.Key())
		}
		n.parent.replace(slices.Delete(p, i, i+1))
		return nil
	default:
		return fmt.Errorf("scan: unsupported parent %T", p)
	}
}

// ReplaceParent replaces the node's parent container in its own parent. It is
// used to store an array that was reordered or truncated.
func (n *Node) ReplaceParent(v any) error {
	if n.parent == nil {
		return ErrRemoveRoot
	}
	if n.parent.root {
		return errors.New("scan: cannot replace the root object")
	}
	n.parent.replace(v)
	return nil
}

// frame tracks a container during traversal together with the slot holding
// it, so containers can be replaced while their children are visited.
type frame struct {
	value any
	set   func(any)
	root  bool
}

func (f *frame) replace(v any) {
	f.value = v
	f.set(v)
}
