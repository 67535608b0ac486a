package rewriter

import (
	"slices"

	"github.com/roach88/objrewrite/internal/fieldpath"
	"github.com/roach88/objrewrite/internal/plugin"
)

// meta is the outcome of dependency resolution for one field list.
type meta struct {
	fetch   []string
	filters []*plugin.Filter
	injects []*plugin.Inject
	sorts   []*plugin.Sort
}

// compileMeta computes the closure of fields over plugin dependencies.
//
// The queue starts with the requested fields and grows while it is walked:
// every plugin activated by a field appends its requirements. Each plugin
// activates at most once, so the walk terminates. Fields produced by an
// activated INJECT plugin (and not required by it) are synthetic and are not
// fetched.
func (r *Registry) compileMeta(fields []string) (*meta, error) {
	m := &meta{}
	queue := slices.Clone(fields)
	active := make([]bool, len(r.plugins))
	ignored := make(map[string]bool)

	for i := 0; i < len(queue); i++ {
		field := queue[i]
		for j, p := range r.plugins {
			if active[j] || !activates(p, field) {
				continue
			}
			active[j] = true
			requires := p.Requires()
			queue = append(queue, requires...)

			switch p := p.(type) {
			case *plugin.Filter:
				m.filters = append(m.filters, p)
			case *plugin.Sort:
				m.sorts = append(m.sorts, p)
			case *plugin.Inject:
				m.injects = append(m.injects, p)
				for _, t := range p.Targets() {
					if !slices.Contains(requires, t) {
						ignored[t] = true
					}
				}
			}
		}
	}

	seen := make(map[string]bool, len(queue))
	var missing []string
	for _, f := range queue {
		if seen[f] || ignored[f] {
			continue
		}
		seen[f] = true
		m.fetch = append(m.fetch, f)
		if !r.source[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, newMissingDependencyError(missing)
	}
	return m, nil
}

// activates reports whether field activates p.
//
// A field activates a plugin when it is one of the plugin's targets, or when
// the plugin governs a subtree (every FILTER and SORT plugin, INJECT plugins
// declared with Subtree) and the field is the governed container itself or
// lies under the governed path.
func activates(p plugin.Plugin, field string) bool {
	if slices.Contains(p.Targets(), field) {
		return true
	}
	if p.Kind() == plugin.KindInject && !p.Subtree() {
		return false
	}
	target := p.Target()
	return field+fieldpath.Sep == target || fieldpath.Under(field, target)
}
