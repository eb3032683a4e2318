// Package node implements the per-peer handshake state machine.
//
// Each node shares one transport.Conn between two activities: a receiver
// goroutine that reads frames, and the issuer (the node's own outbound
// operations). Content frames are half-duplex. The server grants the client
// a turn by writing SEND; the client writes at most one request per turn and
// then waits for the OK reply.
//
// # Server Side
//
// The ServerNode receiver loop is:
//
//	write SEND -> read one frame -> park it in the pending slot ->
//	wait until Handle consumes it -> repeat
//
// Handle is driven by a supervisor (see package server). It dispatches INIT
// and DISCONN to the node's Owner, which maintains the registry.
//
// # Client Side
//
// The ClientNode receiver stores SEND grants in a one-slot turn buffer and
// every other frame in a one-slot reply buffer. Init and Disconnect wait for
// a turn, write their request and wait for the reply. Only one request may be
// outstanding at a time.
//
// # Timeouts
//
// Every wait is bounded. A timeout forces the node closed instead of
// leaving a goroutine blocked on a peer that will never answer.
package node
