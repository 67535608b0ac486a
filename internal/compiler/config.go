package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// schema closes the plugin entries and fixes the field types. Semantic rules
// that CUE cannot express are checked by Validate.
const schema = `
#Lookup: {
	table:  string
	match:  string
	column: string
	key:    string
}

#Plugin: {
	kind:      "FILTER" | "INJECT" | "SORT"
	target?:   string
	subtree?:  bool
	fields?: [...string]
	requires?: [...string]
	expr?:     string
	key?:      string
	limit?:    string
	values?: [string]: string
	lookup?:   #Lookup
}

source: [...string]
mount?: [string]: [...#Plugin]
`

// Config is a compiled plugin configuration.
type Config struct {
	// Source lists the fields the data source can provide.
	Source []string
	// Mounts in declaration order.
	Mounts []Mount
}

// Mount is the list of plugins mounted at one prefix.
type Mount struct {
	Prefix  string
	Plugins []PluginSpec
}

// PluginSpec is one declarative plugin entry.
type PluginSpec struct {
	Kind     string
	Target   string
	Subtree  bool
	Fields   []string
	Requires []string
	Expr     string
	Key      string
	Limit    string
	Values   []ValueSpec
	Lookup   *LookupSpec
	Pos      token.Pos
}

// ValueSpec computes one injected field.
type ValueSpec struct {
	Field string
	Expr  string
}

// LookupSpec injects a field read from a table: the value of Column in the
// first row whose Match column equals the node's Key field.
type LookupSpec struct {
	Table  string
	Match  string
	Column string
	Key    string
}

// CompileFile reads and compiles a single CUE configuration file.
func CompileFile(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return CompileBytes(path, src)
}

// CompileBytes compiles CUE source into a Config. filename is used for error
// positions.
func CompileBytes(filename string, src []byte) (*Config, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileValue(v)
}

// CompileValue checks v against the configuration schema and parses it.
func CompileValue(v cue.Value) (*Config, error) {
	s := v.Context().CompileString(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = s.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileConfig(v)
}

// CompileConfig parses a CUE value already unified with the schema.
func CompileConfig(v cue.Value) (*Config, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{}
	sourceVal := v.LookupPath(cue.ParsePath("source"))
	if !sourceVal.Exists() {
		return nil, &CompileError{
			Field:   "source",
			Message: "source is required",
			Pos:     v.Pos(),
		}
	}
	var err error
	if cfg.Source, err = stringList(sourceVal); err != nil {
		return nil, err
	}

	mountVal := v.LookupPath(cue.ParsePath("mount"))
	if !mountVal.Exists() {
		return cfg, nil
	}
	iter, err := mountVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m := Mount{Prefix: iter.Label()}
		list, err := iter.Value().List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			spec, err := parsePlugin(list.Value())
			if err != nil {
				return nil, err
			}
			m.Plugins = append(m.Plugins, spec)
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}
	return cfg, nil
}

func parsePlugin(v cue.Value) (PluginSpec, error) {
	spec := PluginSpec{Pos: v.Pos()}

	var err error
	if spec.Kind, err = v.LookupPath(cue.ParsePath("kind")).String(); err != nil {
		return spec, formatCUEError(err)
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"target", &spec.Target},
		{"expr", &spec.Expr},
		{"key", &spec.Key},
		{"limit", &spec.Limit},
	} {
		if fv := v.LookupPath(cue.ParsePath(f.name)); fv.Exists() {
			if *f.dst, err = fv.String(); err != nil {
				return spec, formatCUEError(err)
			}
		}
	}
	if sv := v.LookupPath(cue.ParsePath("subtree")); sv.Exists() {
		if spec.Subtree, err = sv.Bool(); err != nil {
			return spec, formatCUEError(err)
		}
	}
	if fv := v.LookupPath(cue.ParsePath("fields")); fv.Exists() {
		if spec.Fields, err = stringList(fv); err != nil {
			return spec, err
		}
	}
	if rv := v.LookupPath(cue.ParsePath("requires")); rv.Exists() {
		if spec.Requires, err = stringList(rv); err != nil {
			return spec, err
		}
	}

	if vv := v.LookupPath(cue.ParsePath("values")); vv.Exists() {
		iter, err := vv.Fields()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for iter.Next() {
			expr, err := iter.Value().String()
			if err != nil {
				return spec, formatCUEError(err)
			}
			spec.Values = append(spec.Values, ValueSpec{Field: iter.Label(), Expr: expr})
		}
	}

	if lv := v.LookupPath(cue.ParsePath("lookup")); lv.Exists() {
		l := &LookupSpec{}
		for _, f := range []struct {
			name string
			dst  *string
		}{
			{"table", &l.Table},
			{"match", &l.Match},
			{"column", &l.Column},
			{"key", &l.Key},
		} {
			if *f.dst, err = lv.LookupPath(cue.ParsePath(f.name)).String(); err != nil {
				return spec, formatCUEError(err)
			}
		}
		spec.Lookup = l
	}
	return spec, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
