package scan

import (
	"slices"
	"strings"
)

type walker struct {
	scanner *Scanner
	handler Handler
}

// walkChildren visits the children of the container held by f. above lists
// the containers above f, nearest first.
func (w *walker) walkChildren(f *frame, path []any, keys []string, above []any) error {
	switch c := f.value.(type) {
	case map[string]any:
		names := make([]string, 0, len(c))
		for k := range c {
			names = append(names, k)
		}
		slices.SortFunc(names, func(a, b string) int { return strings.Compare(b, a) })

		for _, k := range names {
			m, ok := f.value.(map[string]any)
			if !ok {
				return nil
			}
			child, ok := m[k]
			if !ok {
				continue
			}
			parents := withParent(f.value, above)
			set := func(v any) { m[k] = v }
			if err := w.visit(f, child, appendPath(path, k), appendKey(keys, k), parents, set); err != nil {
				return err
			}
		}

	case []any:
		for i := len(c) - 1; i >= 0; i-- {
			cur, ok := f.value.([]any)
			if !ok {
				return nil
			}
			if i >= len(cur) {
				continue
			}
			idx := i
			parents := withParent(f.value, above)
			set := func(v any) {
				if s, ok := f.value.([]any); ok && idx < len(s) {
					s[idx] = v
				}
			}
			// Array indices do not extend the key path.
			if err := w.visit(f, cur[i], appendPath(path, i), keys, parents, set); err != nil {
				return err
			}
		}
	}
	return nil
}

// visit handles one child: it descends first when a pattern may match below,
// then calls the handler if the child itself matches.
func (w *walker) visit(parent *frame, value any, path []any, keys []string, parents []any, set func(any)) error {
	switch value.(type) {
	case []any:
		if w.scanner.mayMatchBelow(keys) || len(w.scanner.match(keys)) > 0 {
			f := &frame{value: value, set: set}
			if err := w.walkChildren(f, path, keys, parents); err != nil {
				return err
			}
		}
		// Arrays are traversed through, never matched.
		return nil
	case map[string]any:
		if w.scanner.mayMatchBelow(keys) {
			f := &frame{value: value, set: set}
			if err := w.walkChildren(f, path, keys, parents); err != nil {
				return err
			}
			value = f.value
		}
	}

	matched := w.scanner.match(keys)
	if len(matched) == 0 {
		return nil
	}
	return w.handler(&Node{
		Path:      path,
		Value:     value,
		Parents:   parents,
		MatchedBy: matched,
		parent:    parent,
	})
}

func withParent(p any, above []any) []any {
	out := make([]any, 0, len(above)+1)
	out = append(out, p)
	return append(out, above...)
}

func appendPath(path []any, elem any) []any {
	out := make([]any, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func appendKey(keys []string, k string) []string {
	out := make([]string, len(keys)+1)
	copy(out, keys)
	out[len(keys)] = k
	return out
}
