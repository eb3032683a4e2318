package node

// State is the handshake state of a node.
type State int32

const (
	// StateUninitialized is the state before INIT completes.
	StateUninitialized State = iota

	// StateConnected is the state after INIT completes and before teardown.
	StateConnected

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
