package cascade

import (
	"context"
	"sort"
	"sync"
)

// Handler performs the deletion side effects for one relation of one
// instance, e.g. removing child rows or unlinking join rows.
type Handler func(ctx context.Context, dc *DeleteContext, inst Instance, rel Relation, name string) error

// Registry is the delete handler table keyed by relation type.
// Relation types without a handler are skipped by the trigger.
type Registry struct {
	mu       sync.RWMutex
	handlers map[RelationType]Handler
}

// NewRegistry creates a registry seeded with the given handlers.
func NewRegistry(handlers map[RelationType]Handler) *Registry {
	r := &Registry{handlers: make(map[RelationType]Handler, len(handlers))}
	for t, h := range handlers {
		if h != nil {
			r.handlers[t] = h
		}
	}
	return r
}

// Register sets the handler for t. A nil handler removes it.
func (r *Registry) Register(t RelationType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[RelationType]Handler)
	}
	if h == nil {
		delete(r.handlers, t)
		return
	}
	r.handlers[t] = h
}

// Lookup returns the handler registered for t.
func (r *Registry) Lookup(t RelationType) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered relation types in sorted order.
func (r *Registry) Types() []RelationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]RelationType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NewRegistry(r.handlers)
}
