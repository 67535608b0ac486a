// Package scan compiles field path patterns and drives traversals of JSON-like
// trees (map[string]any / []any), invoking a handler at every node whose path
// matches one or more patterns.
//
// # Patterns
//
// A pattern is a "."-separated list of segments. A segment is an object key,
// "*" (any single key) or "**" (any number of keys, including none). The empty
// pattern matches the root object.
//
// # Arrays
//
// Array indices are transparent: an array is traversed through and never
// matched itself, and its elements carry the key path of the array. With
// {"items": [{...}, {...}]} the pattern "items" matches each element, and the
// handler sees the array as Parents[0].
//
// # Traversal order
//
// The traversal order is a contract the rewrite phases depend on:
//   - post-order: a node's descendants are visited before the node itself
//   - object keys are visited in descending key order
//   - array elements are visited from the highest index down to 0
//
// Because of the descending array order, a handler may remove the node it is
// visiting (Node.Remove) without shifting any index that is still to be
// visited, and index 0 is always the last element of an array to be seen.
// A handler at index 0 may replace the whole parent array (Node.ReplaceParent),
// e.g. after sorting and truncating it.
package scan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/objrewrite/internal/fieldpath"
)

const (
	segAny  = "*"
	segDeep = "**"
)

// Handler is invoked for every matching node. Returning an error aborts the
// traversal.
type Handler func(n *Node) error

// Scanner is a compiled, immutable set of patterns. It is safe for concurrent
// use.
type Scanner struct {
	patterns []pattern
}

type pattern struct {
	raw      string
	segments []string
	literal  int // number of literal segments, used for specificity
	index    int // compile order
}

// Compile validates and compiles patterns.
//
// Patterns are ordered by specificity (more literal segments first, then
// fewer "**" segments, then compile order); Node.MatchedBy follows that
// order, so MatchedBy[0] is the best match.
func Compile(patterns []string) (*Scanner, error) {
	s := &Scanner{patterns: make([]pattern, 0, len(patterns))}
	seen := make(map[string]bool, len(patterns))
	for i, raw := range patterns {
		if seen[raw] {
			continue
		}
		seen[raw] = true

		segs := fieldpath.Split(raw)
		p := pattern{raw: raw, segments: segs, index: i}
		for _, seg := range segs {
			if seg == "" {
				return nil, fmt.Errorf("invalid pattern %q: empty segment", raw)
			}
			if strings.Contains(seg, segAny) && seg != segAny && seg != segDeep {
				return nil, fmt.Errorf("invalid pattern %q: wildcard must be a whole segment", raw)
			}
			if seg != segAny && seg != segDeep {
				p.literal++
			}
		}
		s.patterns = append(s.patterns, p)
	}

	slices.SortStableFunc(s.patterns, func(a, b pattern) int {
		if a.literal != b.literal {
			return b.literal - a.literal
		}
		if da, db := deepCount(a.segments), deepCount(b.segments); da != db {
			return da - db
		}
		return a.index - b.index
	})
	return s, nil
}

// Patterns returns the compiled patterns in match order.
func (s *Scanner) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.raw
	}
	return out
}

// Scan traverses tree and calls h at every matching node.
// A scanner with no patterns never calls h.
func (s *Scanner) Scan(tree map[string]any, h Handler) error {
	if len(s.patterns) == 0 || tree == nil {
		return nil
	}
	w := &walker{scanner: s, handler: h}
	root := &frame{value: tree, set: func(any) {}, root: true}
	if err := w.walkChildren(root, nil, nil, nil); err != nil {
		return err
	}

	// The root object is visited last, matching the post-order contract.
	if matched := s.match(nil); len(matched) > 0 {
		n := &Node{Path: nil, Value: tree, MatchedBy: matched}
		return h(n)
	}
	return nil
}

func deepCount(segs []string) int {
	n := 0
	for _, seg := range segs {
		if seg == segDeep {
			n++
		}
	}
	return n
}

// match returns the patterns matching the key path keys, in match order.
func (s *Scanner) match(keys []string) []string {
	var out []string
	for _, p := range s.patterns {
		if matchSegments(p.segments, keys, false) {
			out = append(out, p.raw)
		}
	}
	return out
}

// mayMatchBelow reports whether any pattern could match a strict descendant
// of keys, which decides whether the walker descends.
func (s *Scanner) mayMatchBelow(keys []string) bool {
	for _, p := range s.patterns {
		if matchSegments(p.segments, keys, true) {
			return true
		}
	}
	return false
}

// matchSegments matches keys against segs. With prefix set it reports whether
// keys could be extended so that the match succeeds with at least one more
// key.
func matchSegments(segs, keys []string, prefix bool) bool {
	if len(segs) == 0 {
		return !prefix && len(keys) == 0
	}
	if segs[0] == segDeep {
		if prefix {
			// "**" can absorb anything that follows.
			return true
		}
		for i := 0; i <= len(keys); i++ {
			if matchSegments(segs[1:], keys[i:], false) {
				return true
			}
		}
		return false
	}
	if len(keys) == 0 {
		return prefix
	}
	if segs[0] != segAny && segs[0] != keys[0] {
		return false
	}
	return matchSegments(segs[1:], keys[1:], prefix)
}
