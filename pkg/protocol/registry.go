package protocol

import (
	"fmt"
	"sync"
)

// Registry holds the ordered set of protocols enabled on a listener.
// Registration order is detection order. It is thread-safe and can be used
// concurrently.
type Registry struct {
	order []Protocol
	byID  map[ID]Protocol
	mu    sync.RWMutex
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[ID]Protocol),
	}
}

// Register appends a protocol to the registry.
// Returns an error if a protocol with the same ID already exists.
func (r *Registry) Register(p Protocol) error {
	if p == nil {
		return ErrNilProtocol
	}

	id := p.ID()
	if id == "" {
		return ErrEmptyProtocolID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrProtocolExists, id)
	}

	r.byID[id] = p
	r.order = append(r.order, p)
	return nil
}

// Unregister removes a protocol from the registry.
// Returns an error if the protocol is not found.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return fmt.Errorf("%w: %s", ErrProtocolNotFound, id)
	}

	delete(r.byID, id)
	for i, p := range r.order {
		if p.ID() == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a protocol by ID.
func (r *Registry) Get(id ID) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byID[id]
	return p, exists
}

// List returns the registered protocols in registration order.
func (r *Registry) List() []Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Protocol, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered protocols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Detect evaluates Detect of every server-role protocol in registration
// order and returns the first that matches, or nil.
func (r *Registry) Detect(initial []byte) Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.order {
		if p.Role() != RoleServer {
			continue
		}
		if p.Detect(initial) {
			return p
		}
	}
	return nil
}

// single returns the only server-role protocol when exactly one is
// registered.
func (r *Registry) single() (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found Protocol
	for _, p := range r.order {
		if p.Role() != RoleServer {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = p
	}
	return found, found != nil
}
