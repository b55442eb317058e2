package extension

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the unique-keyed mapping from module name to Descriptor.
// Iteration is deterministic (name order) so menu construction and
// notification delivery are stable between runs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Descriptor)}
}

// Add registers a descriptor under its module name.
// A name collision returns ErrAlreadyLoaded.
func (r *Registry) Add(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("module %q: %w", name, ErrAlreadyLoaded)
	}
	r.entries[name] = d
	return nil
}

// Remove deletes the named descriptor, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return false
	}
	delete(r.entries, name)
	return true
}

// Get returns the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[name]
	return d, ok
}

// Names returns all registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all registered descriptors in name order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name])
	}
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
