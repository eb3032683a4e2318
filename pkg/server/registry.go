package server

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/node"
)

// Registry maps identities to connected nodes. All access goes through one
// lock.
type Registry struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*node.ServerNode
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[uuid.UUID]*node.ServerNode),
	}
}

// Insert adds n under its identity. A node that is already closed is
// rejected, so an entry is never created for a torn-down node.
func (r *Registry) Insert(n *node.ServerNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := n.Identity()
	if n.State() == node.StateClosed {
		return fmt.Errorf("%w: %s", ErrNodeClosed, id)
	}
	if _, exists := r.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, id)
	}
	r.nodes[id] = n
	return nil
}

// Remove deletes the entry for id and returns the node it held.
func (r *Registry) Remove(id uuid.UUID) (*node.ServerNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, exists := r.nodes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s not registered", ErrRegistryInconsistency, id)
	}
	delete(r.nodes, id)
	return n, nil
}

// Lookup returns the node registered under id.
func (r *Registry) Lookup(id uuid.UUID) (*node.ServerNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uuid.UUID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Identities returns a sorted snapshot of the registered identities.
func (r *Registry) Identities() []uuid.UUID {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return ids
}
