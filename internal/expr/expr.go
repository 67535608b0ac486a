// Package expr compiles and evaluates the CEL expressions used by declarative
// plugins.
//
// Every expression sees three variables:
//
//	value    the node being visited
//	context  the rewrite context of the run
//	path     the node's path, a list of keys and indices
//
// Numbers of different types compare with each other ("value.score > 0"
// holds for a double score), but arithmetic still needs explicit
// conversions ("double(value.score) * 2.0").
package expr

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

var baseEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("context", cel.DynType),
		cel.Variable("path", cel.ListType(cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		cel.EagerlyValidateDeclarations(true),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to construct CEL base env: %v", err))
	}
	baseEnv = env
}

// ErrNotInteger is wrapped by EvalInt errors for results that are not an
// integer representable as an int.
var ErrNotInteger = errors.New("not an integer")

// Error reports an expression that failed to compile or evaluate.
type Error struct {
	Name   string
	Source string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %s (%q): %v", e.Name, e.Source, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Program is a compiled expression. It is safe for concurrent use.
type Program struct {
	name   string
	source string
	prg    cel.Program
	out    *cel.Type
}

// Vars are the inputs of one evaluation.
type Vars struct {
	Value   any
	Context any
	Path    []any
}

// Compile parses and checks source. name identifies the expression in errors.
func Compile(name, source string) (*Program, error) {
	ast, issues := baseEnv.CompileSource(common.NewStringSource(source, name))
	if issues != nil {
		if err := issues.Err(); err != nil {
			return nil, &Error{Name: name, Source: source, Cause: err}
		}
	}
	prg, err := baseEnv.Program(ast)
	if err != nil {
		return nil, &Error{Name: name, Source: source, Cause: fmt.Errorf("program construction: %w", err)}
	}
	return &Program{name: name, source: source, prg: prg, out: ast.OutputType()}, nil
}

// CompileBool compiles a predicate. Expressions whose type is known
// statically must produce a bool.
func CompileBool(name, source string) (*Program, error) {
	p, err := Compile(name, source)
	if err != nil {
		return nil, err
	}
	if !p.out.IsAssignableType(cel.BoolType) {
		return nil, &Error{Name: name, Source: source, Cause: fmt.Errorf("expected a bool expression, got %s", p.out)}
	}
	return p, nil
}

// Eval evaluates the program and converts the result to plain Go values:
// nil, bool, int64, uint64, float64, string, []byte, []any and map[string]any.
func (p *Program) Eval(v Vars) (any, error) {
	path := v.Path
	if path == nil {
		path = []any{}
	}
	out, _, err := p.prg.Eval(map[string]any{
		"value":   v.Value,
		"context": v.Context,
		"path":    path,
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	native, err := toNative(out)
	if err != nil {
		return nil, p.wrap(err)
	}
	return native, nil
}

// EvalBool evaluates a predicate.
func (p *Program) EvalBool(v Vars) (bool, error) {
	out, err := p.Eval(v)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, p.wrap(fmt.Errorf("got %T, want bool", out))
	}
	return b, nil
}

// EvalInt evaluates an expression producing an integer. A null result
// reports false. Doubles are accepted when integral and within range.
func (p *Program) EvalInt(v Vars) (int, bool, error) {
	out, err := p.Eval(v)
	if err != nil {
		return 0, false, err
	}
	var n int64
	switch x := out.(type) {
	case nil:
		return 0, false, nil
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, false, p.wrap(fmt.Errorf("%w: %d is out of range", ErrNotInteger, x))
		}
		n = int64(x)
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, hence >=.
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, false, p.wrap(fmt.Errorf("%w: %v", ErrNotInteger, x))
		}
		n = int64(x)
	default:
		return 0, false, p.wrap(fmt.Errorf("%w: got %T", ErrNotInteger, out))
	}
	if int64(int(n)) != n {
		return 0, false, p.wrap(fmt.Errorf("%w: %d is out of range", ErrNotInteger, n))
	}
	return int(n), true, nil
}

func (p *Program) wrap(err error) error {
	return &Error{Name: p.name, Source: p.source, Cause: err}
}

func toNative(v ref.Val) (any, error) {
	switch val := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(val), nil
	case types.Int:
		return int64(val), nil
	case types.Uint:
		return uint64(val), nil
	case types.Double:
		return float64(val), nil
	case types.String:
		return string(val), nil
	case types.Bytes:
		return []byte(val), nil
	case traits.Mapper:
		out := make(map[string]any)
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.(types.String)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k)
			}
			elem, err := toNative(val.Get(k))
			if err != nil {
				return nil, err
			}
			out[string(key)] = elem
		}
		return out, nil
	case traits.Lister:
		n, ok := val.Size().(types.Int)
		if !ok {
			return nil, fmt.Errorf("list size %v", val.Size())
		}
		out := make([]any, 0, int(n))
		for i := types.Int(0); i < n; i++ {
			elem, err := toNative(val.Get(i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	default:
		return v.Value(), nil
	}
}
