package mcpservice

import (
	"sync"
)

// Registry holds the providers of each kind in registration order. Adding is
// only possible until Freeze; afterwards the slices are never mutated and
// can be read without locking by the dispatcher.
type Registry struct {
	mu        sync.Mutex
	frozen    bool
	resources []ResourceProvider
	tools     []ToolProvider
	prompts   []PromptProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddResourceProvider appends p to the resource providers. It returns
// ErrRegistryFrozen after Freeze.
func (r *Registry) AddResourceProvider(p ResourceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	r.resources = append(r.resources, p)
	return nil
}

// AddToolProvider appends p to the tool providers. It returns
// ErrRegistryFrozen after Freeze.
func (r *Registry) AddToolProvider(p ToolProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	r.tools = append(r.tools, p)
	return nil
}

// AddPromptProvider appends p to the prompt providers. It returns
// ErrRegistryFrozen after Freeze.
func (r *Registry) AddPromptProvider(p PromptProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	r.prompts = append(r.prompts, p)
	return nil
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// ResourceProviders returns the registered resource providers in
// registration order. The returned slice must not be modified.
func (r *Registry) ResourceProviders() []ResourceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resources[:len(r.resources):len(r.resources)]
}

// ToolProviders returns the registered tool providers in registration order.
func (r *Registry) ToolProviders() []ToolProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[:len(r.tools):len(r.tools)]
}

// PromptProviders returns the registered prompt providers in registration
// order.
func (r *Registry) PromptProviders() []PromptProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts[:len(r.prompts):len(r.prompts)]
}
