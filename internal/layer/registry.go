package layer

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/vlayer/internal/join"
)

// Registry holds the layers of a project by id.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	layers map[string]*Layer
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{layers: make(map[string]*Layer)}
}

// Register adds l and points l at this registry for join resolution.
func (r *Registry) Register(l *Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.layers[l.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateLayer, l.ID())
	}
	r.layers[l.ID()] = l
	r.order = append(r.order, l.ID())
	l.setRegistry(r)
	return nil
}

// Remove drops the layer with id. Joins referring to it become dangling.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.layers[id]
	if !ok {
		return false
	}
	delete(r.layers, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	l.setRegistry(nil)
	return true
}

// Layer returns the layer with id.
func (r *Registry) Layer(id string) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[id]
	return l, ok
}

// Layers returns the registered layers in registration order.
func (r *Registry) Layers() []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Layer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.layers[id])
	}
	return out
}

// Resolve implements join.Resolver.
func (r *Registry) Resolve(id string) (join.Source, bool) {
	l, ok := r.Layer(id)
	if !ok {
		return nil, false
	}
	return l, true
}

// noResolver resolves nothing. Used by unregistered layers.
type noResolver struct{}

func (noResolver) Resolve(string) (join.Source, bool) { return nil, false }
