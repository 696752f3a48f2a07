// Package registry implements the Runtime-Extension Registry (§4.3): the
// set of host capabilities a module may import, each an opaque provider
// bound into the runtime by Link each time a module is invoked.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
)

// CallContext identifies the call a host function is executing within.
type CallContext struct {
	ApplicationID string
	ModuleID      string
	EventName     string
	CallSeq       uint64
}

// Extension is an opaque provider of a host capability. Name resolves
// imports during pre-linking; Bind wires the extension's functions into
// linker for one module; OnContextEntered fires the first time a given
// (application, module) pair enters the extension.
type Extension interface {
	Name() string
	Bind(ctx context.Context, linker wazero.HostModuleBuilder, cc CallContext) error
	OnContextEntered(ctx context.Context, applicationID, moduleID string) error
	// Shutdown releases any process-wide state (singleton background
	// work, subscription tables) owned by this extension.
	Shutdown(ctx context.Context) error
}

// boundKey disambiguates per-application sub-state; extensions must key
// their own internal maps by this pair and never mix application
// contexts (§4.3 Process-wide state).
type boundKey struct {
	applicationID string
	moduleID      string
}

// Registry holds the set of registered extensions and tracks which
// (application, module) pairs have already entered each one.
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]Extension
	entered    map[string]map[boundKey]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		extensions: make(map[string]Extension),
		entered:    make(map[string]map[boundKey]bool),
	}
}

// Register adds an extension under its declared name. Registering a
// second extension with the same name replaces the first.
func (r *Registry) Register(ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[ext.Name()] = ext
	r.entered[ext.Name()] = make(map[boundKey]bool)
}

// Lookup returns the extension registered under name.
func (r *Registry) Lookup(name string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.extensions[name]
	return ext, ok
}

// Names returns the registered extension names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extensions))
	for name := range r.extensions {
		names = append(names, name)
	}
	return names
}

// Link binds every registered extension's functions into a fresh
// wazero.Runtime's host module builders for the given call, firing each
// extension's context-binding hook the first time (application, module)
// enters it.
func (r *Registry) Link(ctx context.Context, rt wazero.Runtime, cc CallContext) error {
	r.mu.Lock()
	extensions := make([]Extension, 0, len(r.extensions))
	for _, ext := range r.extensions {
		extensions = append(extensions, ext)
	}
	r.mu.Unlock()

	key := boundKey{applicationID: cc.ApplicationID, moduleID: cc.ModuleID}

	for _, ext := range extensions {
		builder := rt.NewHostModuleBuilder(ext.Name())
		if err := ext.Bind(ctx, builder, cc); err != nil {
			return fmt.Errorf("bind extension %s: %w", ext.Name(), err)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate extension host module %s: %w", ext.Name(), err)
		}

		r.mu.Lock()
		seen := r.entered[ext.Name()]
		alreadyEntered := seen[key]
		if !alreadyEntered {
			seen[key] = true
		}
		r.mu.Unlock()

		if !alreadyEntered {
			if err := ext.OnContextEntered(ctx, cc.ApplicationID, cc.ModuleID); err != nil {
				return fmt.Errorf("context-binding hook for %s: %w", ext.Name(), err)
			}
		}
	}
	return nil
}

// Shutdown tears down every extension's process-wide state.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	extensions := make([]Extension, 0, len(r.extensions))
	for _, ext := range r.extensions {
		extensions = append(extensions, ext)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, ext := range extensions {
		if err := ext.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
