package isolation

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
)

// Context is a built isolation environment.
type Context struct {
	structure   Structure
	fingerprint string
	loader      Loader
}

// Loader returns the outermost loader of the context.
func (c *Context) Loader() Loader { return c.loader }

// Load resolves a symbol through the context's loader chain.
func (c *Context) Load(name string) (Symbol, error) { return c.loader.Load(name) }

// Structure returns the structure the context was built from.
func (c *Context) Structure() Structure { return c.structure }

// Fingerprint returns the structural identity of the context.
func (c *Context) Fingerprint() string { return c.fingerprint }

// Boundary builds isolation contexts and caches hierarchical ones for the
// life of the process.
type Boundary struct {
	catalog   *Catalog
	bootstrap Loader
	flat      *Context
	recorder  metrics.Recorder

	mu    sync.Mutex
	cache map[string]*Context
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithRecorder reports cache hits and misses to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Boundary) { b.recorder = metrics.OrNoop(r) }
}

// NewBoundary creates a boundary over catalog.
func NewBoundary(catalog *Catalog, opts ...Option) *Boundary {
	boot := &bootstrapLoader{catalog: catalog}
	b := &Boundary{
		catalog:   catalog,
		bootstrap: boot,
		flat:      &Context{structure: Flat(), fingerprint: Flat().Fingerprint(), loader: boot},
		recorder:  metrics.NoopRecorder{},
		cache:     make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bootstrap returns the loader that sees the whole catalog.
func (b *Boundary) Bootstrap() Loader { return b.bootstrap }

// Catalog returns the symbols known to the process.
func (b *Boundary) Catalog() *Catalog { return b.catalog }

// ContextFor returns the context for s. Flat structures share one context;
// hierarchical ones are built once per distinct structure.
func (b *Boundary) ContextFor(s Structure) (*Context, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.IsFlat() {
		return b.flat, nil
	}

	key := s.Fingerprint()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx, ok := b.cache[key]; ok {
		b.recorder.IncIsolationCache(true)
		return ctx, nil
	}
	b.recorder.IncIsolationCache(false)

	ctx := &Context{structure: s, fingerprint: key, loader: b.chain(s.Loaders)}
	b.cache[key] = ctx
	slog.Debug("Built isolation context", logfields.Isolation(string(s.Kind)), "loaders", len(s.Loaders), "fingerprint", key[:12])
	return ctx, nil
}

// Cached returns the number of hierarchical contexts built so far.
func (b *Boundary) Cached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

func (b *Boundary) chain(specs []LoaderSpec) Loader {
	current := b.bootstrap
	for _, spec := range specs {
		switch spec.Kind {
		case LoaderFilter:
			current = &filterLoader{
				name:     spec.Name,
				parent:   current,
				packages: sortedCopy(spec.AllowPackages),
				symbols:  sortedCopy(spec.AllowSymbols),
			}
		case LoaderModules:
			current = &modulesLoader{
				name:    spec.Name,
				parent:  current,
				catalog: b.catalog,
				modules: sortedCopy(spec.Modules),
			}
		}
	}
	return current
}
