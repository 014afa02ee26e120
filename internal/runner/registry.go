// Package runner resolves handler references against a compiled registry
// and drives a single invocation end to end: build the capability context,
// invoke the handler, drain the cleanup stack, and produce a Result with
// runner-owned metadata (spec.md §4.1).
package runner

import (
	"sync"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

// Registry is the compiled handler table a plugin's Registration resolves
// into at load time. Handler references are looked up directly rather than
// resolved from a file path on disk, since handlers are compiled Go code
// registered at plugin-init time (spec.md §4.1, step 1: "resolve the
// handler path", adapted to a registry lookup per SPEC_FULL.md §4.1).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]plugin.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]plugin.Handler)}
}

// Register binds ref to handler. A later call with the same ref replaces
// the earlier binding, so a plugin may be hot-reloaded onto a live registry.
func (r *Registry) Register(ref string, handler plugin.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ref] = handler
}

// RegisterAll binds every handler named in reg.Handlers, looking each one
// up in impls by HandlerSpec.Ref.
func (r *Registry) RegisterAll(reg plugin.Registration, impls map[string]plugin.Handler) {
	for _, spec := range reg.Handlers {
		if h, ok := impls[spec.Ref]; ok {
			r.Register(spec.Ref, h)
		}
	}
}

// Resolve looks up ref, failing with HandlerNotFound if it was never
// registered (spec.md §4.1, step 1).
func (r *Registry) Resolve(ref string) (plugin.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ref]
	if !ok {
		return nil, errtaxonomy.New(errtaxonomy.HandlerNotFound, "no handler registered for "+ref)
	}
	return h, nil
}

// Unregister removes ref, used when a plugin is unloaded or hot-reloaded
// out from under the registry.
func (r *Registry) Unregister(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, ref)
}
