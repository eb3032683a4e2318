package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vip2p-protocol/vip2p-go/pkg/node"
)

// nodeTracker tracks every live node, registered or not. The reaper uses it
// to close nodes that never complete INIT.
type nodeTracker struct {
	nodes *xsync.MapOf[uuid.UUID, *node.ServerNode]
}

func newNodeTracker() *nodeTracker {
	return &nodeTracker{
		nodes: xsync.NewMapOf[uuid.UUID, *node.ServerNode](),
	}
}

// Add tracks n.
func (nt *nodeTracker) Add(n *node.ServerNode) {
	nt.nodes.Store(n.Identity(), n)
}

// Remove stops tracking n. Safe to call on absent nodes.
func (nt *nodeTracker) Remove(n *node.ServerNode) {
	nt.nodes.Delete(n.Identity())
}

// CloseStale closes nodes older than maxAge that are still uninitialized.
// Returns the number of nodes closed.
func (nt *nodeTracker) CloseStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	closed := 0
	nt.nodes.Range(func(_ uuid.UUID, n *node.ServerNode) bool {
		if n.CreatedAt().Before(cutoff) && n.Expire("handshake timeout") {
			closed++
		}
		return true
	})
	return closed
}

// Each calls fn for every tracked node.
func (nt *nodeTracker) Each(fn func(n *node.ServerNode)) {
	nt.nodes.Range(func(_ uuid.UUID, n *node.ServerNode) bool {
		fn(n)
		return true
	})
}

// Len returns the number of tracked nodes.
func (nt *nodeTracker) Len() int {
	return nt.nodes.Size()
}
