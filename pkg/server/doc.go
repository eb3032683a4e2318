// Package server runs the accept loop and the registry of connected nodes.
//
// Each accepted connection gets a node.ServerNode and a supervisor
// goroutine. The receiver goroutine inside the node parks inbound frames;
// the supervisor consumes them, woken by the node or by a poll ticker.
// Handler execution is bounded server-wide by a semaphore.
//
// The Registry maps identities to nodes. A node is present exactly while it
// is connected: it is inserted when INIT is accepted and removed by Disconn,
// which is the only teardown path for registered nodes.
package server
