package client

import (
	"sort"
	"sync"

	"github.com/getmockd/polyd/pkg/protocol"
)

type registryKey struct {
	client    string
	operation string
}

// Registry maps (client, operation) to outpoints of any context type. It
// is safe for concurrent use; writes are expected at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]any)}
}

// Register stores o under (client, operation), replacing any previous
// entry.
func Register[C protocol.RequestContext](r *Registry, client, operation string, o *Outpoint[C]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey{client, operation}] = o
}

// Get returns the outpoint stored under (client, operation) when it was
// registered for context type C.
func Get[C protocol.RequestContext](r *Registry, client, operation string) (*Outpoint[C], bool) {
	r.mu.RLock()
	v, ok := r.entries[registryKey{client, operation}]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	o, ok := v.(*Outpoint[C])
	return o, ok
}

// Remove deletes an entry.
func (r *Registry) Remove(client, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, registryKey{client, operation})
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Operations returns the sorted operation names registered for client.
func (r *Registry) Operations(client string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ops []string
	for k := range r.entries {
		if k.client == client {
			ops = append(ops, k.operation)
		}
	}
	sort.Strings(ops)
	return ops
}
