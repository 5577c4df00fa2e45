package evaluator

import (
	"fmt"
	"sync"
)

// Registry holds the evaluators of an engine instance, keyed by
// dimension. New judges are added by implementing Evaluator and
// registering, never by branching on type.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
	ordered    []string // dimension registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[string]Evaluator),
	}
}

// Register adds an evaluator under its dimension. Registering a second
// evaluator for the same dimension replaces the first but keeps its
// position in the order.
func (r *Registry) Register(e Evaluator) error {
	if e == nil {
		return fmt.Errorf("registry: nil evaluator")
	}
	dim := e.Dimension()
	if dim == "" {
		return fmt.Errorf("registry: evaluator %s has no dimension", e.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.evaluators[dim]; !exists {
		r.ordered = append(r.ordered, dim)
	}
	r.evaluators[dim] = e
	return nil
}

// Get returns the evaluator for a dimension.
func (r *Registry) Get(dimension string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[dimension]
	return e, ok
}

// List returns all evaluators in registration order.
func (r *Registry) List() []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Evaluator, 0, len(r.ordered))
	for _, dim := range r.ordered {
		out = append(out, r.evaluators[dim])
	}
	return out
}

// Dimensions returns the registered dimension names in registration
// order.
func (r *Registry) Dimensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered evaluators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
