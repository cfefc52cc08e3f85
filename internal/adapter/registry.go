package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Registry maps session kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register stores a for kind. Replacing an existing kind is allowed but logged.
func (r *Registry) Register(kind string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[kind]; exists {
		r.logger.Warn("replacing registered adapter", "kind", kind)
	}
	r.adapters[kind] = a
}

// Get returns the adapter for kind and whether it was found.
func (r *Registry) Get(kind string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.Get(kind)
	return ok
}

// Lookup is Get for call paths where a missing adapter is fatal.
func (r *Registry) Lookup(kind string) (Adapter, error) {
	a, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrAdapterNotFound, kind)
	}
	return a, nil
}

// ListKinds returns the registered kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
