package rewriter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/objrewrite/internal/compare"
	"github.com/roach88/objrewrite/internal/plugin"
	"github.com/roach88/objrewrite/internal/scan"
)

// Rewrite runs the pipeline synchronously over tree, mutating it in place.
//
// rc is the caller's rewrite context and is handed to every callback. If an
// INJECT plugin schedules asynchronous work, Rewrite fails with
// ASYNC_REQUIRED before the filter phase; use RewriteAsync instead.
func (q *Request) Rewrite(tree map[string]any, rc any) error {
	return q.run(context.Background(), tree, rc, false)
}

// RewriteAsync runs the pipeline, awaiting the inject thunks concurrently
// before the remaining phases.
//
// Thunk results are committed to the tree one after another, in scheduling
// order, once every thunk has succeeded. If any thunk fails or ctx is
// cancelled, RewriteAsync returns INJECT_FAILED and the tree is left as the
// synchronous part of the inject phase made it.
func (q *Request) RewriteAsync(ctx context.Context, tree map[string]any, rc any) error {
	return q.run(ctx, tree, rc, true)
}

// pass carries the state of one pipeline invocation.
type pass struct {
	*Request
	rc     any
	logger *slog.Logger
}

func (q *Request) run(ctx context.Context, tree map[string]any, rc any, async bool) error {
	runID := q.registry.runIDs.Generate()
	ctx, span := q.registry.tracer.Start(ctx, "Rewrite", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Bool("async", async),
		attribute.StringSlice("fields", q.fields),
	))
	defer span.End()

	r := &pass{Request: q, rc: rc, logger: q.registry.logger.With("run_id", runID)}
	if err := r.pipeline(ctx, tree, async); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("rewrite failed", "error", err)
		return err
	}
	return nil
}

func (r *pass) pipeline(ctx context.Context, tree map[string]any, async bool) error {
	var thunks []plugin.Thunk
	err := r.phase(ctx, "inject", func(context.Context) (err error) {
		thunks, err = r.inject(tree)
		return err
	})
	if err != nil {
		return err
	}

	if len(thunks) > 0 {
		if !async {
			return &Error{
				Code:    ErrCodeAsyncRequired,
				Message: fmt.Sprintf("%d inject thunks scheduled, use RewriteAsync for async logic", len(thunks)),
			}
		}
		if err := r.phase(ctx, "await", func(ctx context.Context) error {
			return r.await(ctx, thunks)
		}); err != nil {
			return err
		}
	}

	if err := r.phase(ctx, "filter", func(context.Context) error {
		return r.filter(tree)
	}); err != nil {
		return err
	}
	if err := r.phase(ctx, "sort", func(context.Context) error {
		return r.sort(tree)
	}); err != nil {
		return err
	}
	return r.phase(ctx, "retain", func(context.Context) error {
		r.retainer.Retain(tree)
		return nil
	})
}

// phase runs fn inside a child span.
func (r *pass) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.registry.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *pass) args(n *scan.Node) plugin.Args {
	return plugin.Args{Path: n.Path, Value: n.Value, Parents: n.Parents, Context: r.rc}
}

// inject invokes every INJECT plugin of every matching node and collects the
// thunks they schedule.
func (r *pass) inject(tree map[string]any) ([]plugin.Thunk, error) {
	if r.injects.empty() {
		return nil, nil
	}
	var thunks []plugin.Thunk
	err := r.injects.scanner.Scan(tree, func(n *scan.Node) error {
		args := r.args(n)
		for _, p := range r.injects.matching(n.MatchedBy) {
			ts, err := p.Schedule(args)
			if err != nil {
				return newCallbackError(p.Kind(), p.Target(), n.Path, err)
			}
			for _, t := range ts {
				if t != nil {
					thunks = append(thunks, t)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("inject phase done", "thunks", len(thunks))
	return thunks, nil
}

// await runs the thunks concurrently and then applies their commits in
// scheduling order. Nothing is committed unless every thunk succeeded.
func (r *pass) await(ctx context.Context, thunks []plugin.Thunk) error {
	commits := make([]plugin.Commit, len(thunks))
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(r.registry.concurrency)
	for i, thunk := range thunks {
		p.Go(func(ctx context.Context) error {
			commit, err := thunk(ctx)
			if err != nil {
				return err
			}
			commits[i] = commit
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return &Error{
			Code:    ErrCodeInjectFailed,
			Message: "inject thunk failed",
			Err:     err,
		}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Code: ErrCodeInjectFailed, Message: "rewrite cancelled", Err: err}
	}

	for _, commit := range commits {
		if commit != nil {
			commit()
		}
	}
	r.logger.Debug("inject thunks committed", "count", len(commits))
	return nil
}

// filter removes every node for which no matching FILTER plugin returns
// true. The root object is never removed.
func (r *pass) filter(tree map[string]any) error {
	if r.filters.empty() {
		return nil
	}
	removed := 0
	err := r.filters.scanner.Scan(tree, func(n *scan.Node) error {
		if len(n.Path) == 0 {
			return nil
		}
		args := r.args(n)
		for _, p := range r.filters.matching(n.MatchedBy) {
			keep, err := p.Keep(args)
			if err != nil {
				return newCallbackError(p.Kind(), p.Target(), n.Path, err)
			}
			if keep {
				return nil
			}
		}
		removed++
		return n.Remove()
	})
	if err != nil {
		return err
	}
	r.logger.Debug("filter phase done", "removed", removed)
	return nil
}

// sort orders every array matched by a SORT pattern.
//
// Elements are visited from the highest index down, so the keys of an array
// are complete when its element 0 is reached. Keys are cached per array
// depth: traversal is post-order, so arrays at one depth are finished one
// after another and the depth's cache is dropped at element 0.
func (r *pass) sort(tree map[string]any) error {
	if r.sorts.empty() {
		return nil
	}
	lookups := make(map[int][]any)
	sorted := 0
	err := r.sorts.scanner.Scan(tree, func(n *scan.Node) error {
		idx, ok := n.Index()
		if !ok {
			return &Error{
				Code:    ErrCodeSortTarget,
				Message: fmt.Sprintf("sort pattern %q matched a node outside an array", n.MatchedBy[0]),
				Path:    n.Path,
			}
		}
		arr := n.Parents[0].([]any)
		// The best match decides which plugins sort the array.
		plugins := r.sorts.byPattern[n.MatchedBy[0]]

		args := r.args(n)
		key := make([]any, len(plugins))
		for i, p := range plugins {
			k, err := p.Key(args)
			if err != nil {
				return newCallbackError(p.Kind(), p.Target(), n.Path, err)
			}
			key[i] = k
		}

		depth := len(n.Path) - 1
		lookup, ok := lookups[depth]
		if !ok || len(lookup) != len(arr) {
			lookup = make([]any, len(arr))
			lookups[depth] = lookup
		}
		lookup[idx] = key
		if idx != 0 {
			return nil
		}

		for d := range lookups {
			if d >= depth {
				delete(lookups, d)
			}
		}
		out, err := r.order(arr, lookup, plugins, n.Path)
		if err != nil {
			return err
		}
		sorted++
		return n.ReplaceParent(out)
	})
	if err != nil {
		return err
	}
	r.logger.Debug("sort phase done", "arrays", sorted)
	return nil
}

// order returns arr stably sorted by keys and truncated to the smallest limit
// any plugin supplies.
func (r *pass) order(arr, keys []any, plugins []*plugin.Sort, path []any) ([]any, error) {
	idx := make([]int, len(arr))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return compare.Compare(keys[a], keys[b])
	})
	out := make([]any, len(arr))
	for i, j := range idx {
		out[i] = arr[j]
	}

	limit, limited := 0, false
	for _, p := range plugins {
		n, ok, err := p.Limit(r.rc)
		if errors.Is(err, plugin.ErrInvalidLimit) {
			return nil, &Error{
				Code:    ErrCodeInvalidLimit,
				Message: fmt.Sprintf("sort plugin %q returned an unusable limit", p.Target()),
				Path:    path[:len(path)-1],
				Err:     err,
			}
		}
		if err != nil {
			return nil, newCallbackError(p.Kind(), p.Target(), path, err)
		}
		if !ok {
			continue
		}
		if n < 0 {
			return nil, &Error{
				Code:    ErrCodeInvalidLimit,
				Message: fmt.Sprintf("sort plugin %q returned limit %d", p.Target(), n),
				Path:    path[:len(path)-1],
			}
		}
		if !limited || n < limit {
			limit, limited = n, true
		}
	}
	if limited && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
