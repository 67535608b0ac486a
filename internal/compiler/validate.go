package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/objrewrite/internal/expr"
	"github.com/roach88/objrewrite/internal/fieldpath"
	"github.com/roach88/objrewrite/internal/plugin"
)

// Validation error codes (E100-E199)
const (
	// Config errors (E100-E109)
	ErrNoSource         = "E100" // source field list is empty
	ErrInvalidPath      = "E101" // malformed field path
	ErrDuplicateName    = "E102" // duplicate source field or injected field
	ErrUnknownKind      = "E103" // kind is not FILTER, INJECT or SORT
	ErrOptionNotAllowed = "E104" // option not valid for the plugin kind

	// Plugin body errors (E110-E119)
	ErrMissingBody        = "E110" // expr/key/values/lookup missing
	ErrConflictingBody    = "E111" // both values and lookup on one INJECT
	ErrUndeclaredValue    = "E112" // values/lookup field not listed in fields
	ErrInvalidExpression  = "E113" // CEL expression does not compile
	ErrInvalidIdentifier  = "E114" // lookup table/column name is not an identifier
	ErrNestedInjectField  = "E115" // declarative inject fields must be single keys
	ErrMissingInjectField = "E116" // INJECT without fields
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled config.
// Returns all errors found (does not fail-fast).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	// E100: at least one source field
	if len(cfg.Source) == 0 {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "at least one source field is required",
			Code:    ErrNoSource,
		})
	}

	seen := make(map[string]bool, len(cfg.Source))
	for i, f := range cfg.Source {
		field := fmt.Sprintf("source[%d]", i)
		errs = append(errs, validatePath(f, field, false)...)
		if seen[f] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate source field %q", f),
				Code:    ErrDuplicateName,
			})
		}
		seen[f] = true
	}

	injected := make(map[string]string)
	for _, m := range cfg.Mounts {
		mountField := fmt.Sprintf("mount[%q]", m.Prefix)
		if m.Prefix != "" {
			errs = append(errs, validatePath(m.Prefix, mountField, false)...)
		}
		for i, p := range m.Plugins {
			field := fmt.Sprintf("%s[%d]", mountField, i)
			pluginErrs := validatePlugin(p, field)

			// E102: the same synthetic field injected twice
			if p.Kind == plugin.KindInject.String() {
				base := fieldpath.Join(m.Prefix, fieldpath.Trim(p.Target))
				for _, f := range p.Fields {
					full := fieldpath.Join(base, f)
					if prev, ok := injected[full]; ok {
						pluginErrs = append(pluginErrs, ValidationError{
							Field:   field + ".fields",
							Message: fmt.Sprintf("field %q is already injected by %s", full, prev),
							Code:    ErrDuplicateName,
						})
					}
					injected[full] = field
				}
			}

			for j := range pluginErrs {
				if p.Pos.IsValid() {
					pluginErrs[j].Line = p.Pos.Line()
				}
			}
			errs = append(errs, pluginErrs...)
		}
	}
	return errs
}

func validatePlugin(p PluginSpec, field string) []ValidationError {
	var errs []ValidationError

	kind, err := plugin.ParseKind(p.Kind)
	if err != nil {
		return []ValidationError{{
			Field:   field + ".kind",
			Message: err.Error(),
			Code:    ErrUnknownKind,
		}}
	}

	if p.Target != "" && p.Target != "/" {
		errs = append(errs, validatePath(strings.TrimPrefix(p.Target, "/"), field+".target", true)...)
	}
	for j, r := range p.Requires {
		errs = append(errs, validatePath(strings.TrimPrefix(r, "/"), fmt.Sprintf("%s.requires[%d]", field, j), false)...)
	}

	// E104: options that only one kind understands
	notAllowed := func(option string, set bool, owner plugin.Kind) {
		if set && kind != owner {
			errs = append(errs, ValidationError{
				Field:   field + "." + option,
				Message: fmt.Sprintf("%s is only valid for %s plugins", option, owner),
				Code:    ErrOptionNotAllowed,
			})
		}
	}
	notAllowed("expr", p.Expr != "", plugin.KindFilter)
	notAllowed("key", p.Key != "", plugin.KindSort)
	notAllowed("limit", p.Limit != "", plugin.KindSort)
	notAllowed("subtree", p.Subtree, plugin.KindInject)
	notAllowed("fields", len(p.Fields) > 0, plugin.KindInject)
	notAllowed("values", len(p.Values) > 0, plugin.KindInject)
	notAllowed("lookup", p.Lookup != nil, plugin.KindInject)

	switch kind {
	case plugin.KindFilter:
		errs = append(errs, requireExpr(field+".expr", p.Expr, true)...)
	case plugin.KindSort:
		errs = append(errs, requireExpr(field+".key", p.Key, false)...)
		if p.Limit != "" {
			errs = append(errs, checkExpr(field+".limit", p.Limit, false)...)
		}
	case plugin.KindInject:
		errs = append(errs, validateInject(p, field)...)
	}
	return errs
}

func validateInject(p PluginSpec, field string) []ValidationError {
	var errs []ValidationError

	// E116: an INJECT plugin must declare what it produces
	if len(p.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".fields",
			Message: "INJECT plugins must declare at least one field",
			Code:    ErrMissingInjectField,
		})
	}
	for j, f := range p.Fields {
		if strings.Contains(f, fieldpath.Sep) || f == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.fields[%d]", field, j),
				Message: fmt.Sprintf("injected field %q must be a single key", f),
				Code:    ErrNestedInjectField,
			})
		}
	}

	switch {
	case len(p.Values) == 0 && p.Lookup == nil:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "INJECT plugins need values or lookup",
			Code:    ErrMissingBody,
		})
	case len(p.Values) > 0 && p.Lookup != nil:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "values and lookup are mutually exclusive",
			Code:    ErrConflictingBody,
		})
	}

	for _, v := range p.Values {
		if !slices.Contains(p.Fields, v.Field) {
			errs = append(errs, ValidationError{
				Field:   field + ".values." + v.Field,
				Message: fmt.Sprintf("value for undeclared field %q", v.Field),
				Code:    ErrUndeclaredValue,
			})
		}
		errs = append(errs, checkExpr(field+".values."+v.Field, v.Expr, false)...)
	}

	if l := p.Lookup; l != nil {
		if len(p.Fields) != 1 {
			errs = append(errs, ValidationError{
				Field:   field + ".fields",
				Message: "lookup injects exactly one field",
				Code:    ErrUndeclaredValue,
			})
		}
		for _, id := range []struct{ name, value string }{
			{"table", l.Table}, {"match", l.Match}, {"column", l.Column}, {"key", l.Key},
		} {
			if !identifierPattern.MatchString(id.value) {
				errs = append(errs, ValidationError{
					Field:   field + ".lookup." + id.name,
					Message: fmt.Sprintf("%q is not a valid identifier", id.value),
					Code:    ErrInvalidIdentifier,
				})
			}
		}
	}
	return errs
}

func requireExpr(field, source string, boolean bool) []ValidationError {
	if source == "" {
		return []ValidationError{{
			Field:   field,
			Message: "expression is required",
			Code:    ErrMissingBody,
		}}
	}
	return checkExpr(field, source, boolean)
}

// checkExpr reports a CEL compile error as E113.
func checkExpr(field, source string, boolean bool) []ValidationError {
	compile := expr.Compile
	if boolean {
		compile = expr.CompileBool
	}
	if _, err := compile(field, source); err != nil {
		return []ValidationError{{
			Field:   field,
			Message: err.Error(),
			Code:    ErrInvalidExpression,
		}}
	}
	return nil
}

// validatePath reports malformed field paths (E101). Containers (trailing
// separator) are accepted only where allowContainer is set.
func validatePath(p, field string, allowContainer bool) []ValidationError {
	trimmed := p
	if allowContainer {
		trimmed = fieldpath.Trim(p)
	}
	if trimmed == "" && p != "" {
		return nil
	}
	for _, seg := range strings.Split(trimmed, fieldpath.Sep) {
		if seg == "" || strings.Contains(seg, "*") {
			return []ValidationError{{
				Field:   field,
				Message: fmt.Sprintf("invalid field path %q", p),
				Code:    ErrInvalidPath,
			}}
		}
	}
	return nil
}
