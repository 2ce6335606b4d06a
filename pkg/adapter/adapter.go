package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request describes one generation job handed to an adapter. UsedImages are
// absolute paths in selection order; OutDir is the job's private output
// directory, created before the call.
type Request struct {
	JobID     string
	ProductID string
	Variant   string
	Algo      string

	UsedImages []string
	OutDir     string
	Workspace  string

	// Extras carries free-form adapter-specific parameters.
	Extras map[string]string

	// DeadlineS is an optional soft deadline in seconds; adapters may honor
	// it in addition to ctx cancellation. Zero means no deadline.
	DeadlineS int
}

// Result is what a successful adapter invocation produces. Paths are
// relative to the request's OutDir; the adapter is responsible for having
// materialized the files there (upload, poll and download included).
type Result struct {
	ObjectPath  string
	Previews    []string
	AlgoVersion string

	// UnitPriceUSD is the per-generation price reported by the backend,
	// when it reports one. Currency is recorded as-is; no conversion.
	UnitPriceUSD *float64
	Currency     string

	RawMetadata map[string]any
}

// Adapter executes one generation algorithm. Implementations are opaque to
// the core: they own their transport, polling and download logic, and they
// signal failure through the transient/permanent error taxonomy.
type Adapter interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Registry maps algorithm keys to adapters. Dispatch is explicit; there is
// no reflection and no global registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an algorithm key to an adapter, replacing any previous
// binding for the same key.
func (r *Registry) Register(algo string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[algo] = a
}

// Get returns the adapter bound to the algorithm key.
func (r *Registry) Get(algo string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[algo]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for algorithm %q", algo)
	}
	return a, nil
}

// Keys returns the registered algorithm keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
