package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/objrewrite/internal/canonical"
	"github.com/roach88/objrewrite/internal/expr"
	"github.com/roach88/objrewrite/internal/fieldpath"
	"github.com/roach88/objrewrite/internal/plugin"
)

// Lookuper resolves lookup plugin values. It returns false when no row
// matches.
type Lookuper interface {
	Lookup(ctx context.Context, table, match, column string, key any) (any, bool, error)
}

// Build validates cfg and turns every plugin entry into a factory, keyed by
// mount prefix. lookups may be nil when no entry uses lookup.
func Build(cfg *Config, lookups Lookuper) (map[string][]plugin.Factory, error) {
	if verrs := Validate(cfg); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, errors.Join(errs...)
	}

	mounts := make(map[string][]plugin.Factory, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		for i, p := range m.Plugins {
			name := fmt.Sprintf("mount[%q][%d]", m.Prefix, i)
			f, err := buildPlugin(name, p, lookups)
			if err != nil {
				return nil, err
			}
			mounts[m.Prefix] = append(mounts[m.Prefix], f)
		}
	}
	return mounts, nil
}

func vars(a plugin.Args) expr.Vars {
	return expr.Vars{Value: a.Value, Context: a.Context, Path: a.Path}
}

func buildPlugin(name string, p PluginSpec, lookups Lookuper) (plugin.Factory, error) {
	switch p.Kind {
	case plugin.KindFilter.String():
		pred, err := expr.CompileBool(name+".expr", p.Expr)
		if err != nil {
			return nil, err
		}
		return plugin.NewFilter(plugin.FilterOptions{
			Target:   p.Target,
			Requires: p.Requires,
			Fn: func(a plugin.Args) (bool, error) {
				return pred.EvalBool(vars(a))
			},
		}), nil

	case plugin.KindSort.String():
		key, err := expr.Compile(name+".key", p.Key)
		if err != nil {
			return nil, err
		}
		opts := plugin.SortOptions{
			Target:   p.Target,
			Requires: p.Requires,
			Fn: func(a plugin.Args) (any, error) {
				return key.Eval(vars(a))
			},
		}
		if p.Limit != "" {
			limit, err := expr.Compile(name+".limit", p.Limit)
			if err != nil {
				return nil, err
			}
			opts.Limit = func(rc any) (int, bool, error) {
				n, ok, err := limit.EvalInt(expr.Vars{Context: rc})
				if errors.Is(err, expr.ErrNotInteger) {
					return 0, false, fmt.Errorf("%w: %w", plugin.ErrInvalidLimit, err)
				}
				return n, ok, err
			}
		}
		return plugin.NewSort(opts), nil

	case plugin.KindInject.String():
		if p.Lookup != nil {
			if lookups == nil {
				return nil, fmt.Errorf("%s: lookup plugins need a database", name)
			}
			return buildLookup(p, lookups), nil
		}
		return buildValues(name, p)
	}
	return nil, fmt.Errorf("%s: unknown plugin kind %q", name, p.Kind)
}

// buildValues injects every declared value synchronously into the matched
// object.
func buildValues(name string, p PluginSpec) (plugin.Factory, error) {
	type compiled struct {
		field string
		prg   *expr.Program
	}
	values := make([]compiled, 0, len(p.Values))
	for _, v := range p.Values {
		prg, err := expr.Compile(name+".values."+v.Field, v.Expr)
		if err != nil {
			return nil, err
		}
		values = append(values, compiled{field: v.Field, prg: prg})
	}

	return plugin.NewInject(plugin.InjectOptions{
		Target:   p.Target,
		Fields:   p.Fields,
		Requires: p.Requires,
		Subtree:  p.Subtree,
		Fn: func(a plugin.Args) ([]plugin.Thunk, error) {
			m, ok := a.Value.(map[string]any)
			if !ok {
				return nil, nil
			}
			for _, v := range values {
				out, err := v.prg.Eval(vars(a))
				if err != nil {
					return nil, err
				}
				m[v.field] = canonical.Normalize(out)
			}
			return nil, nil
		},
	}), nil
}

// buildLookup schedules one lookup per matched object. The node's key field
// is added to the plugin's requirements.
func buildLookup(p PluginSpec, lookups Lookuper) plugin.Factory {
	l := *p.Lookup
	field := p.Fields[0]
	requires := append([]string{}, p.Requires...)
	requires = append(requires, fieldpath.Join(fieldpath.Trim(p.Target), l.Key))

	return plugin.NewInject(plugin.InjectOptions{
		Target:   p.Target,
		Fields:   p.Fields,
		Requires: requires,
		Subtree:  p.Subtree,
		Fn: func(a plugin.Args) ([]plugin.Thunk, error) {
			m, ok := a.Value.(map[string]any)
			if !ok {
				return nil, nil
			}
			key, ok := m[l.Key]
			if !ok || key == nil {
				m[field] = nil
				return nil, nil
			}
			return []plugin.Thunk{func(ctx context.Context) (plugin.Commit, error) {
				v, found, err := lookups.Lookup(ctx, l.Table, l.Match, l.Column, key)
				if err != nil {
					return nil, fmt.Errorf("lookup %s.%s = %v: %w", l.Table, l.Match, key, err)
				}
				if !found {
					v = nil
				}
				return func() { m[field] = v }, nil
			}}, nil
		},
	})
}
