package backend

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNameRequired indicates a backend without a name.
	ErrNameRequired = errors.New("backend: name must be provided")
	// ErrDuplicateBackend indicates two backends share a name.
	ErrDuplicateBackend = errors.New("backend: names must be unique")
	// ErrPriorityOrder indicates two backends share a priority, which would
	// make the load order ambiguous.
	ErrPriorityOrder = errors.New("backend: priorities must be strictly ordered")
)

// Registry is an immutable set of backends ordered from highest to lowest
// priority, the order a store tries them in at boot.
type Registry struct {
	backends []Backend
}

// NewRegistry validates and sorts backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	seen := make(map[string]struct{}, len(backends))
	sorted := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b == nil {
			continue
		}
		name := b.Descriptor().Name
		if name == "" {
			return nil, ErrNameRequired
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, name)
		}
		seen[name] = struct{}{}
		sorted = append(sorted, b)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Descriptor().Priority > sorted[j].Descriptor().Priority
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Descriptor().Priority == sorted[i].Descriptor().Priority {
			return nil, fmt.Errorf("%w: %s and %s at %d", ErrPriorityOrder,
				sorted[i-1].Descriptor().Name, sorted[i].Descriptor().Name, sorted[i].Descriptor().Priority)
		}
	}
	return &Registry{backends: sorted}, nil
}

// Backends returns the backends in load order. The slice is a copy.
func (r *Registry) Backends() []Backend {
	if r == nil || len(r.backends) == 0 {
		return nil
	}
	return append([]Backend(nil), r.backends...)
}

// Len returns the number of backends.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.backends)
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	for _, b := range r.backends {
		if b.Descriptor().Name == name {
			return b, true
		}
	}
	return nil, false
}

// First returns the highest priority backend.
func (r *Registry) First() (Backend, bool) {
	if r == nil || len(r.backends) == 0 {
		return nil, false
	}
	return r.backends[0], true
}
