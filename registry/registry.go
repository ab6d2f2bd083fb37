// Package registry holds the named import bundles that instantiation draws
// from: the default environment plus every bundle registered by earlier
// modules of the same script.
package registry

import (
	"sort"
	"sync"

	"github.com/wippyai/wasm-harness/engine"
)

// Registry maps namespace names to export bundles. It implements
// engine.Resolver.
type Registry struct {
	bundles map[string]*engine.Bundle
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{bundles: make(map[string]*engine.Bundle)}
}

// Lookup returns the bundle registered under namespace, or an empty bundle.
func (r *Registry) Lookup(namespace string) *engine.Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.bundles[namespace]; ok {
		return b
	}
	return engine.EmptyBundle()
}

// Register stores b under namespace, replacing any earlier bundle.
func (r *Registry) Register(namespace string, b *engine.Bundle) {
	if b == nil {
		b = engine.EmptyBundle()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[namespace] = b
}

// Reset drops every registration and installs defaults.
func (r *Registry) Reset(defaults map[string]*engine.Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bundles = make(map[string]*engine.Bundle, len(defaults))
	for ns, b := range defaults {
		if b == nil {
			b = engine.EmptyBundle()
		}
		r.bundles[ns] = b
	}
}

// Names returns the registered namespaces in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bundles))
	for ns := range r.bundles {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the current registrations. Later changes to r
// are not visible through it.
func (r *Registry) Snapshot() engine.Imports {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(engine.Imports, len(r.bundles))
	for ns, b := range r.bundles {
		out[ns] = b
	}
	return out
}
