// Package rewriter resolves plugin dependencies for a requested field set and
// runs the rewrite pipeline over data trees.
//
// A Registry is built once from plugin factories mounted at path prefixes and
// the list of fields the data source can provide. Init compiles a Request for
// a list of requested fields: it computes which source fields must be fetched
// (FieldsToRequest) and which plugins take part. The Request then rewrites
// one fetched tree at a time in four phases:
//
//  1. inject: INJECT plugins add synthetic fields, possibly asynchronously
//  2. filter: nodes rejected by every matching FILTER plugin are removed
//  3. sort:   arrays matched by SORT plugins are ordered and truncated
//  4. retain: the tree is pruned to the requested fields
//
// Registries and Requests are immutable and safe for concurrent use. The tree
// passed to a rewrite is mutated in place and must not be shared by
// concurrent runs.
package rewriter

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/karlseguin/ccache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/objrewrite/internal/plugin"
	"github.com/roach88/objrewrite/internal/scan"
)

const (
	// DefaultConcurrency bounds the inject thunks awaited in parallel.
	DefaultConcurrency = 8

	// DefaultCacheSize is the number of compiled requests kept by Init.
	DefaultCacheSize = 128

	// DefaultCacheTTL is how long a compiled request stays cached.
	DefaultCacheTTL = time.Hour
)

const tracerName = "github.com/roach88/objrewrite/internal/rewriter"

// Registry holds the instantiated plugins and the source field list.
type Registry struct {
	plugins []plugin.Plugin
	source  map[string]bool
	allowed []string
	allow   map[string]bool

	logger      *slog.Logger
	tracer      trace.Tracer
	runIDs      RunIDGenerator
	concurrency int
	cacheSize   int64
	cacheTTL    time.Duration
	cache       *ccache.Cache[*Request]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithConcurrency bounds how many inject thunks RewriteAsync awaits in
// parallel. Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		r.concurrency = max(n, 1)
	}
}

// WithCacheSize sets how many compiled requests Init keeps. Zero disables
// the cache.
func WithCacheSize(n int64) Option {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// WithCacheTTL sets how long a compiled request stays cached.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Registry) {
		r.cacheTTL = d
	}
}

// WithTracer sets the tracer used for pipeline spans. Default: the global
// OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = t
	}
}

// WithRunIDGenerator sets the run id generator. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(r *Registry) {
		r.runIDs = g
	}
}

// New instantiates every factory under its mount prefix and returns the
// registry.
//
// Prefixes are processed in sorted order and factories in slice order, so
// plugin order is deterministic. A factory returning nil, a plugin of an
// unknown kind or a plugin without its callback is an INVALID_PLUGIN error.
func New(mounts map[string][]plugin.Factory, sourceFields []string, opts ...Option) (*Registry, error) {
	r := &Registry{
		source:      make(map[string]bool, len(sourceFields)),
		allow:       make(map[string]bool, len(sourceFields)),
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		runIDs:      UUIDv7Generator{},
		concurrency: DefaultConcurrency,
		cacheSize:   DefaultCacheSize,
		cacheTTL:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, f := range sourceFields {
		r.source[f] = true
		r.addAllowed(f)
	}

	prefixes := make([]string, 0, len(mounts))
	for prefix := range mounts {
		prefixes = append(prefixes, prefix)
	}
	slices.Sort(prefixes)

	for _, prefix := range prefixes {
		for i, factory := range mounts[prefix] {
			p, err := instantiate(factory, prefix)
			if err != nil {
				return nil, &Error{
					Code:    ErrCodeInvalidPlugin,
					Message: fmt.Sprintf("plugin %d mounted at %q", i, prefix),
					Err:     err,
				}
			}
			r.plugins = append(r.plugins, p)
			if p.Kind() == plugin.KindInject {
				for _, t := range p.Targets() {
					r.addAllowed(t)
				}
			}
			r.logger.Debug("plugin registered",
				"kind", p.Kind().String(),
				"prefix", prefix,
				"target", p.Target(),
				"requires", p.Requires())
		}
	}

	if r.cacheSize > 0 {
		r.cache = ccache.New(ccache.Configure[*Request]().MaxSize(r.cacheSize))
	}
	return r, nil
}

// Close stops the compiled request cache. Init keeps working afterwards but
// no longer caches. Close must not run concurrently with Init.
func (r *Registry) Close() {
	if r.cache == nil {
		return
	}
	r.cache.Stop()
	r.cache = nil
}

func instantiate(factory plugin.Factory, prefix string) (plugin.Plugin, error) {
	if factory == nil {
		return nil, errors.New("nil factory")
	}
	p := factory(prefix)
	if p == nil {
		return nil, errors.New("factory returned nil")
	}
	var want plugin.Kind
	switch p.(type) {
	case *plugin.Filter:
		want = plugin.KindFilter
	case *plugin.Inject:
		want = plugin.KindInject
	case *plugin.Sort:
		want = plugin.KindSort
	default:
		return nil, fmt.Errorf("unknown plugin type %T", p)
	}
	if p.Kind() != want {
		return nil, fmt.Errorf("plugin %T reports kind %s", p, p.Kind())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := scan.Compile([]string{p.Pattern()}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) addAllowed(f string) {
	if r.allow[f] {
		return
	}
	r.allow[f] = true
	r.allowed = append(r.allowed, f)
}

// AllowedFields returns the fields that may be requested: the source fields
// followed by every field produced by an INJECT plugin.
func (r *Registry) AllowedFields() []string {
	return slices.Clone(r.allowed)
}

// Plugins returns the instantiated plugins in registry order.
func (r *Registry) Plugins() []plugin.Plugin {
	return slices.Clone(r.plugins)
}

// Init compiles the request for fields.
//
// Every requested field must be allowed (INVALID_FIELD otherwise) and every
// field the active plugins depend on must resolve to a source field
// (MISSING_DEPENDENCY otherwise). Compiled requests are cached per exact
// field list.
func (r *Registry) Init(fields []string) (*Request, error) {
	var bad []string
	for _, f := range fields {
		if !r.allow[f] {
			bad = append(bad, f)
		}
	}
	if len(bad) > 0 {
		return nil, newInvalidFieldError(bad)
	}

	key := cacheKey(fields)
	if r.cache != nil {
		if item := r.cache.Get(key); item != nil && !item.Expired() && slices.Equal(item.Value().fields, fields) {
			r.logger.Debug("request cache hit", "fields", fields)
			return item.Value(), nil
		}
	}

	req, err := r.compile(fields)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(key, req, r.cacheTTL)
	}

	r.logger.Debug("request compiled",
		"fields", fields,
		"fetch", req.fetch,
		"inject", len(req.injects.plugins),
		"filter", len(req.filters.plugins),
		"sort", len(req.sorts.plugins))
	return req, nil
}

// cacheKey digests the field list. Lists that differ only in order get
// different keys.
func cacheKey(fields []string) string {
	h := xxhash.New()
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 10)
}
