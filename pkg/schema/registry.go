package schema

import (
	"fmt"
	"sync"
)

// Registry holds the model types known to one database.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*ModelType
	byTable map[string][]*ModelType
	order   []*ModelType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*ModelType),
		byTable: make(map[string][]*ModelType),
	}
}

// Register validates d and adds the resulting type. Names are unique.
func (r *Registry) Register(d Descriptor) (*ModelType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return nil, fmt.Errorf("model type %q already registered", d.Name)
	}
	var parent *ModelType
	if d.Extends != "" {
		p, ok := r.byName[d.Extends]
		if !ok {
			return nil, fmt.Errorf("model type %q extends unknown type %q", d.Name, d.Extends)
		}
		parent = p
	}
	t, err := newModelType(d, parent)
	if err != nil {
		return nil, err
	}
	r.byName[t.name] = t
	r.byTable[t.table] = append(r.byTable[t.table], t)
	r.order = append(r.order, t)
	return t, nil
}

// RegisterAll registers descriptors in order, stopping at the first error.
func (r *Registry) RegisterAll(ds []Descriptor) ([]*ModelType, error) {
	out := make([]*ModelType, 0, len(ds))
	for _, d := range ds {
		t, err := r.Register(d)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*ModelType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// ByTable returns the types backed by table, in registration order.
func (r *Registry) ByTable(table string) []*ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ModelType(nil), r.byTable[table]...)
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []*ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ModelType(nil), r.order...)
}

// Subtypes returns t and every registered type that extends it.
func (r *Registry) Subtypes(t *ModelType) []*ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ModelType
	for _, c := range r.order {
		if c.IsA(t) {
			out = append(out, c)
		}
	}
	return out
}
