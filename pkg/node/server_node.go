package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// Owner is the registry side of a server node. The node calls Register once
// INIT is accepted and Disconn on any teardown of a connected node.
type Owner interface {
	// Register inserts the node under its identity.
	Register(n *ServerNode) error

	// Disconn removes the node from the registry and closes it.
	Disconn(n *ServerNode, reason string) error
}

// ServerNode is the server's view of one connected peer.
//
// The receiver goroutine grants the peer a turn with SEND, reads one frame,
// parks it in the pending slot and waits until Handle consumes it. Handle is
// called by a supervisor; it is the only place handshake transitions happen.
type ServerNode struct {
	base

	identity  uuid.UUID
	owner     Owner
	createdAt time.Time

	pendingMu sync.Mutex
	pending   *wire.Message

	ready    chan struct{}
	consumed chan struct{}

	startOnce sync.Once
}

// NewServerNode creates a node for an accepted connection. The identity is
// minted here and never changes.
func NewServerNode(conn transport.Conn, owner Owner, config Config) *ServerNode {
	n := &ServerNode{
		identity:  uuid.New(),
		owner:     owner,
		createdAt: time.Now(),
		ready:     make(chan struct{}, 1),
		consumed:  make(chan struct{}, 1),
	}
	n.init(conn, config, log.RoleServer)
	n.nodeID.Store(n.identity.String())
	return n
}

// Identity returns the node's identity.
func (n *ServerNode) Identity() uuid.UUID {
	return n.identity
}

// CreatedAt returns when the node was created.
func (n *ServerNode) CreatedAt() time.Time {
	return n.createdAt
}

// Ready receives a value whenever a frame is parked in the pending slot.
func (n *ServerNode) Ready() <-chan struct{} {
	return n.ready
}

// Start launches the receiver goroutine. Subsequent calls are no-ops.
func (n *ServerNode) Start() {
	n.startOnce.Do(func() {
		go n.receive()
	})
}

// Close tears the node down without touching the registry.
func (n *ServerNode) Close(reason string) error {
	return n.shutdown(reason)
}

// Expire closes the node if it has not completed INIT. It reports whether the
// node was closed.
func (n *ServerNode) Expire(reason string) bool {
	if !n.transition(StateUninitialized, StateClosed, reason) {
		return false
	}
	n.setErr(fmt.Errorf("%w: %s", ErrTimeout, reason))
	_ = n.shutdown(reason)
	return true
}

func (n *ServerNode) receive() {
	defer close(n.done)

	for !n.isClosing() {
		if err := n.write(wire.CmdSend, nil); err != nil {
			n.abort(classifyConnErr(err))
			return
		}

		data, err := n.readFrame()
		if err != nil {
			n.abort(classifyConnErr(err))
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			n.abort(err)
			return
		}
		n.logMessage(log.DirectionIn, msg, nil)

		if !n.park(msg) {
			return
		}
	}
}

func (n *ServerNode) readFrame() ([]byte, error) {
	var limit time.Duration
	switch n.State() {
	case StateUninitialized:
		limit = n.config.HandshakeTimeout
	case StateConnected:
		limit = n.config.IdleTimeout
	}

	deadline := time.Time{}
	if limit > 0 {
		deadline = time.Now().Add(limit)
	}
	if err := n.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return n.conn.ReadFrame()
}

// park stores msg in the pending slot and waits until it is consumed. It
// returns false when the receiver must stop.
func (n *ServerNode) park(msg *wire.Message) bool {
	n.pendingMu.Lock()
	n.pending = msg
	n.pendingMu.Unlock()

	select {
	case n.ready <- struct{}{}:
	default:
	}

	timer := time.NewTimer(n.config.HandlerTimeout)
	defer timer.Stop()

	select {
	case <-n.consumed:
		return true
	case <-n.closing:
		return false
	case <-timer.C:
		n.fail(fmt.Errorf("%w: %s not handled within %s", ErrTimeout, msg.Command, n.config.HandlerTimeout))
		return false
	}
}

// HasPending reports whether a frame is waiting in the pending slot.
func (n *ServerNode) HasPending() bool {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	return n.pending != nil
}

// Handle dispatches the pending frame, if any, and clears the slot. It
// reports whether a frame was handled.
func (n *ServerNode) Handle() bool {
	n.pendingMu.Lock()
	msg := n.pending
	n.pending = nil
	n.pendingMu.Unlock()

	if msg == nil {
		return false
	}

	n.dispatch(msg)

	select {
	case n.consumed <- struct{}{}:
	default:
	}
	return true
}

func (n *ServerNode) dispatch(msg *wire.Message) {
	switch n.State() {
	case StateUninitialized:
		if msg.Command == wire.CmdInit {
			n.handleInit()
			return
		}
		n.logError(log.LayerNode,
			fmt.Errorf("%w: %s before INIT", ErrUnexpectedCommand, msg.Command),
			"frame dropped")

	case StateConnected:
		if msg.Command == wire.CmdDisconn {
			n.handleDisconn(string(msg.Payload))
			return
		}
		n.fail(fmt.Errorf("%w: %s while connected", ErrUnexpectedCommand, msg.Command))

	default:
		n.debugLog("frame ignored on closed node", "command", msg.Command)
	}
}

func (n *ServerNode) handleInit() {
	if !n.transition(StateUninitialized, StateConnected, "init") {
		return
	}

	if err := n.owner.Register(n); err != nil {
		n.setErr(err)
		n.logError(log.LayerNode, err, "register failed")
		_ = n.shutdown("register failed")
		return
	}

	if err := n.Reply(wire.CmdOK, wire.EncodeIdentity(n.identity)); err != nil {
		n.fail(err)
	}
}

func (n *ServerNode) handleDisconn(reason string) {
	if err := n.Reply(wire.CmdOK, nil); err != nil {
		n.fail(err)
		return
	}
	if err := n.owner.Disconn(n, reason); err != nil {
		n.warnLog("disconn", "error", err)
	}
}

// Reply writes a response frame. Only one reply may be in flight at a time.
func (n *ServerNode) Reply(cmd wire.Command, payload []byte) error {
	if !n.inFlight.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	defer n.inFlight.Store(false)

	if n.State() == StateClosed {
		return fmt.Errorf("%w: reply %s on closed node", ErrInvalidState, cmd)
	}
	return n.write(cmd, payload)
}

// abort handles a receiver error. Errors caused by our own close are expected.
func (n *ServerNode) abort(err error) {
	if n.isClosing() {
		return
	}
	n.fail(err)
}

// fail records err and closes the node, going through the owner when the
// node is registered.
func (n *ServerNode) fail(err error) {
	n.setErr(err)
	n.logError(errorLayer(err), err, "node failed")

	reason := err.Error()
	if n.State() == StateConnected {
		if derr := n.owner.Disconn(n, reason); derr != nil {
			n.warnLog("disconn after failure", "error", derr)
			_ = n.shutdown(reason)
		}
		return
	}
	_ = n.shutdown(reason)
}
