package node

import "errors"

// Node errors.
var (
	// ErrUnexpectedCommand indicates a command that is not valid in the
	// node's current state.
	ErrUnexpectedCommand = errors.New("unexpected command")

	// ErrConnectionClosed indicates the stream ended while the node still
	// expected frames.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout indicates a bounded wait expired. The node is closed.
	ErrTimeout = errors.New("timeout")

	// ErrRequestInFlight indicates an attempt to issue a request while
	// another one is still unacknowledged.
	ErrRequestInFlight = errors.New("request already in flight")

	// ErrInvalidState indicates an operation that the current state does
	// not allow.
	ErrInvalidState = errors.New("invalid state")
)
