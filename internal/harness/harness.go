package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/objrewrite/internal/canonical"
	"github.com/roach88/objrewrite/internal/compiler"
	"github.com/roach88/objrewrite/internal/rewriter"
	"github.com/roach88/objrewrite/internal/store"
)

// Harness holds the per-scenario environment.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a fixed run id,
// so repeated runs produce identical output.
//
// Execution flow:
//  1. Create a fresh in-memory database and run the scenario's SQL
//  2. Compile the plugin configuration and build the registry
//  3. Compile the request and rewrite a copy of the input
//  4. Compare the outcome with the scenario's expectations
//
// Errors from steps 1 and 2 are returned; errors from step 3 are part of the
// result and checked against expect_error.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if scenario.SQL != "" {
		if err := st.Exec(ctx, scenario.SQL); err != nil {
			return nil, fmt.Errorf("failed to run scenario sql: %w", err)
		}
	}

	reg, err := h.registry(scenario)
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	result := NewResult()
	runErr := h.rewrite(ctx, reg, scenario, result)
	if runErr != nil {
		result.Error = runErr.Error()
	}
	h.check(scenario, result, runErr)
	return result, nil
}

func (h *Harness) registry(s *Scenario) (*rewriter.Registry, error) {
	cfg, err := compiler.CompileFile(s.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config: %w", err)
	}
	mounts, err := compiler.Build(cfg, h.store)
	if err != nil {
		return nil, fmt.Errorf("failed to build plugins: %w", err)
	}
	reg, err := rewriter.New(mounts, cfg.Source,
		rewriter.WithLogger(h.logger),
		rewriter.WithCacheSize(0),
		rewriter.WithRunIDGenerator(scenarioRunID("scenario-"+s.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	return reg, nil
}

// scenarioRunID names every run of a scenario after the scenario, keeping
// logs identical between runs.
type scenarioRunID string

func (id scenarioRunID) Generate() string { return string(id) }

func (h *Harness) rewrite(ctx context.Context, reg *rewriter.Registry, s *Scenario, result *Result) error {
	req, err := reg.Init(s.Fields)
	if err != nil {
		return err
	}
	result.Fields = req.FieldsToRequest()

	tree := canonical.Normalize(clone(s.Input)).(map[string]any)
	rc := canonical.Normalize(clone(s.Context))
	if s.Async {
		err = req.RewriteAsync(ctx, tree, rc)
	} else {
		err = req.Rewrite(tree, rc)
	}
	if err != nil {
		return err
	}
	result.Output = tree
	return nil
}

// check compares the run's outcome with the scenario's expectations.
func (h *Harness) check(s *Scenario, result *Result, runErr error) {
	if s.ExpectError != "" {
		switch {
		case runErr == nil:
			result.AddError(fmt.Sprintf("expected error containing %q, got none", s.ExpectError))
		case !strings.Contains(runErr.Error(), s.ExpectError):
			result.AddError(fmt.Sprintf("expected error containing %q, got %q", s.ExpectError, runErr.Error()))
		}
		return
	}
	if runErr != nil {
		result.AddError(fmt.Sprintf("unexpected error: %v", runErr))
		return
	}

	if s.ExpectFields != nil {
		if diff := cmp.Diff(s.ExpectFields, result.Fields); diff != "" {
			result.AddError(fmt.Sprintf("fields mismatch (-want +got):\n%s", diff))
		}
	}
	if s.Expect != nil {
		want := canonical.Normalize(clone(s.Expect))
		if diff := cmp.Diff(want, any(result.Output)); diff != "" {
			result.AddError(fmt.Sprintf("output mismatch (-want +got):\n%s", diff))
		}
	}
}

// clone deep-copies a decoded YAML or JSON value so a scenario can be run
// more than once. YAML maps with non-string keys are converted.
func clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = clone(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = clone(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = clone(elem)
		}
		return out
	default:
		return v
	}
}
