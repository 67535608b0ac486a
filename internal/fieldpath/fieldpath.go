// Package fieldpath holds the dotted field path conventions shared by plugins,
// the dependency resolver and the traversal primitives.
//
// A field path is a "."-separated list of object keys ("items.owner.name").
// Array indices never appear in field paths: arrays are transparent, so
// "items.score" names the score of every element of items.
//
// A container path ends with the separator ("items.") and governs the path
// itself plus every nested descendant. The empty path names the root.
package fieldpath

import "strings"

// Sep separates the keys of a field path.
const Sep = "."

// Join resolves rel against a mount prefix.
//
// A rel starting with "/" is absolute and the prefix is ignored. An empty rel
// resolves to the prefix itself.
func Join(prefix, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return strings.TrimPrefix(rel, "/")
	}
	prefix = strings.TrimSuffix(prefix, Sep)
	switch {
	case prefix == "":
		return rel
	case rel == "":
		return prefix
	default:
		return prefix + Sep + rel
	}
}

// Container returns p in container form (trailing separator).
// The root stays "".
func Container(p string) string {
	if p == "" || strings.HasSuffix(p, Sep) {
		return p
	}
	return p + Sep
}

// IsContainer reports whether p is in container form. The root counts as a
// container.
func IsContainer(p string) bool {
	return p == "" || strings.HasSuffix(p, Sep)
}

// Trim strips the container separator, turning a governed path into the
// pattern used for traversal.
func Trim(p string) string {
	return strings.TrimSuffix(p, Sep)
}

// Split returns the keys of p. The root has no keys.
func Split(p string) []string {
	p = Trim(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, Sep)
}

// Under reports whether field lies under the governed path target.
//
// A container target covers every field with that textual prefix. An exact
// target t covers t and anything below "t.", so "ab" never covers "abc".
func Under(field, target string) bool {
	if IsContainer(target) {
		return strings.HasPrefix(field, target)
	}
	return field == target || strings.HasPrefix(field, target+Sep)
}
