package plugin

import (
	"fmt"

	"github.com/roach88/objrewrite/internal/fieldpath"
)

// FilterOptions declares a FILTER plugin. Paths are relative to the mount
// prefix unless they start with "/".
type FilterOptions struct {
	Target   string
	Requires []string
	Fn       FilterFunc
}

// Filter removes nodes for which Keep returns false.
type Filter struct {
	base
	fn FilterFunc
}

// NewFilter returns a factory for a FILTER plugin.
func NewFilter(opts FilterOptions) Factory {
	return func(prefix string) Plugin {
		target := resolveTarget(prefix, opts.Target)
		return &Filter{
			base: base{
				kind:     KindFilter,
				target:   target,
				targets:  []string{fieldpath.Trim(target)},
				requires: resolveAll(prefix, opts.Requires),
				subtree:  true,
			},
			fn: opts.Fn,
		}
	}
}

// Keep reports whether the node survives.
func (f *Filter) Keep(a Args) (bool, error) {
	return f.fn(a)
}

func (f *Filter) Validate() error {
	if f.fn == nil {
		return fmt.Errorf("%s: %w", f, errNoCallback)
	}
	return nil
}

// InjectOptions declares an INJECT plugin. Fields are the synthetic fields
// the plugin produces, relative to the target.
type InjectOptions struct {
	Target   string
	Fields   []string
	Requires []string
	// Subtree makes the plugin govern everything under its container, not
	// only its declared fields.
	Subtree  bool
	Fn       InjectFunc
}

// Inject schedules work that adds fields to the tree.
type Inject struct {
	base
	fn InjectFunc
}

// NewInject returns a factory for an INJECT plugin.
func NewInject(opts InjectOptions) Factory {
	return func(prefix string) Plugin {
		target := resolveTarget(prefix, opts.Target)
		targets := resolveAll(fieldpath.Trim(target), opts.Fields)
		if len(targets) == 0 {
			targets = []string{fieldpath.Trim(target)}
		}
		return &Inject{
			base: base{
				kind:     KindInject,
				target:   target,
				targets:  targets,
				requires: resolveAll(prefix, opts.Requires),
				subtree:  opts.Subtree,
			},
			fn: opts.Fn,
		}
	}
}

// Schedule runs the synchronous part of the plugin and returns its pending
// asynchronous work.
func (i *Inject) Schedule(a Args) ([]Thunk, error) {
	return i.fn(a)
}

func (i *Inject) Validate() error {
	if i.fn == nil {
		return fmt.Errorf("%s: %w", i, errNoCallback)
	}
	return nil
}

// SortOptions declares a SORT plugin. Limit is optional.
type SortOptions struct {
	Target   string
	Requires []string
	Fn       SortFunc
	Limit    LimitFunc
}

// Sort orders array elements by Key and truncates to Limit.
type Sort struct {
	base
	fn    SortFunc
	limit LimitFunc
}

// NewSort returns a factory for a SORT plugin.
func NewSort(opts SortOptions) Factory {
	return func(prefix string) Plugin {
		target := resolveTarget(prefix, opts.Target)
		return &Sort{
			base: base{
				kind:     KindSort,
				target:   target,
				targets:  []string{fieldpath.Trim(target)},
				requires: resolveAll(prefix, opts.Requires),
				subtree:  true,
			},
			fn:    opts.Fn,
			limit: opts.Limit,
		}
	}
}

// Key computes the sort key of an array element.
func (s *Sort) Key(a Args) (any, error) {
	return s.fn(a)
}

// Limit returns the plugin's length limit for rc. Plugins without a limit
// report false.
func (s *Sort) Limit(rc any) (int, bool, error) {
	if s.limit == nil {
		return 0, false, nil
	}
	return s.limit(rc)
}

func (s *Sort) Validate() error {
	if s.fn == nil {
		return fmt.Errorf("%s: %w", s, errNoCallback)
	}
	return nil
}
