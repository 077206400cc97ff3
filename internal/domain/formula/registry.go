package formula

import (
	"fmt"
	"sort"
)

// Registry is a read-only set of descriptors keyed by name.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

// NewRegistry builds a registry. Duplicate names are rejected.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.IsZero() {
			return nil, fmt.Errorf("%w: zero descriptor", ErrInvalidDescriptor)
		}
		if _, exists := r.byName[d.Name()]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFormula, d.Name())
		}
		r.byName[d.Name()] = d
		r.names = append(r.names, d.Name())
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the descriptor with the given name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all formula names, sorted.
func (r *Registry) Names() []string {
	return copyStrings(r.names)
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	return len(r.byName)
}
