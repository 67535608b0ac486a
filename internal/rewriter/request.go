package rewriter

import (
	"slices"

	"github.com/roach88/objrewrite/internal/plugin"
	"github.com/roach88/objrewrite/internal/retain"
	"github.com/roach88/objrewrite/internal/scan"
)

// Request is a compiled pipeline for one requested field list. It is
// immutable and may be reused for any number of trees, concurrently.
type Request struct {
	registry *Registry
	fields   []string
	fetch    []string
	injects  *targetMap[*plugin.Inject]
	filters  *targetMap[*plugin.Filter]
	sorts    *targetMap[*plugin.Sort]
	retainer *retain.Retainer
}

// targetMap groups the active plugins of one kind by traversal pattern.
type targetMap[P plugin.Plugin] struct {
	plugins   []P
	byPattern map[string][]P
	scanner   *scan.Scanner
}

func compileTargetMap[P plugin.Plugin](plugins []P) (*targetMap[P], error) {
	tm := &targetMap[P]{
		plugins:   plugins,
		byPattern: make(map[string][]P),
	}
	var patterns []string
	for _, p := range plugins {
		pattern := p.Pattern()
		if _, ok := tm.byPattern[pattern]; !ok {
			patterns = append(patterns, pattern)
		}
		tm.byPattern[pattern] = append(tm.byPattern[pattern], p)
	}
	s, err := scan.Compile(patterns)
	if err != nil {
		return nil, err
	}
	tm.scanner = s
	return tm, nil
}

func (tm *targetMap[P]) empty() bool {
	return len(tm.plugins) == 0
}

// matching returns the plugins of every pattern in matchedBy, in match order.
func (tm *targetMap[P]) matching(matchedBy []string) []P {
	var out []P
	for _, pattern := range matchedBy {
		out = append(out, tm.byPattern[pattern]...)
	}
	return out
}

func (r *Registry) compile(fields []string) (*Request, error) {
	m, err := r.compileMeta(fields)
	if err != nil {
		return nil, err
	}
	req := &Request{
		registry: r,
		fields:   slices.Clone(fields),
		fetch:    m.fetch,
		retainer: retain.New(fields),
	}
	if req.injects, err = compileTargetMap(m.injects); err != nil {
		return nil, invalidPatternError(err)
	}
	if req.filters, err = compileTargetMap(m.filters); err != nil {
		return nil, invalidPatternError(err)
	}
	if req.sorts, err = compileTargetMap(m.sorts); err != nil {
		return nil, invalidPatternError(err)
	}
	return req, nil
}

func invalidPatternError(err error) *Error {
	return &Error{Code: ErrCodeInvalidPlugin, Message: "invalid plugin target", Err: err}
}

// Fields returns the requested fields.
func (q *Request) Fields() []string {
	return slices.Clone(q.fields)
}

// FieldsToRequest returns the source fields that must be fetched before a
// tree is handed to Rewrite, in resolution order.
func (q *Request) FieldsToRequest() []string {
	return slices.Clone(q.fetch)
}

// Active returns the plugins taking part in this request: INJECT, then
// FILTER, then SORT, each in activation order.
func (q *Request) Active() []plugin.Plugin {
	var out []plugin.Plugin
	for _, p := range q.injects.plugins {
		out = append(out, p)
	}
	for _, p := range q.filters.plugins {
		out = append(out, p)
	}
	for _, p := range q.sorts.plugins {
		out = append(out, p)
	}
	return out
}
