package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// ClientNode is the client side of one connection.
//
// Its receiver goroutine runs for the node's lifetime. SEND grants fill the
// turn slot; every other frame fills the reply slot. Requests take the turn,
// write their frame and wait for the reply.
type ClientNode struct {
	base

	identityMu sync.RWMutex
	identity   uuid.UUID

	turn    chan struct{}
	replies chan *wire.Message

	// disconnecting is set once DISCONN is written; the server closing the
	// stream after its OK is then expected.
	disconnecting atomic.Bool

	startOnce sync.Once
}

// NewClientNode creates a client node over conn.
func NewClientNode(conn transport.Conn, config Config) *ClientNode {
	n := &ClientNode{
		turn:    make(chan struct{}, 1),
		replies: make(chan *wire.Message, 1),
	}
	n.init(conn, config, log.RoleClient)
	return n
}

// Identity returns the identity assigned by the server, or uuid.Nil before
// INIT completes.
func (n *ClientNode) Identity() uuid.UUID {
	n.identityMu.RLock()
	defer n.identityMu.RUnlock()
	return n.identity
}

// Start launches the receiver goroutine. Subsequent calls are no-ops.
func (n *ClientNode) Start() {
	n.startOnce.Do(func() {
		go n.receive()
	})
}

// Close tears the node down without a DISCONN exchange.
func (n *ClientNode) Close(reason string) error {
	return n.shutdown(reason)
}

// Init performs the INIT handshake and returns the assigned identity.
func (n *ClientNode) Init(ctx context.Context) (uuid.UUID, error) {
	if st := n.State(); st != StateUninitialized {
		return uuid.Nil, fmt.Errorf("%w: init in state %s", ErrInvalidState, st)
	}

	reply, err := n.request(ctx, wire.CmdInit, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("init: %w", err)
	}

	id, err := wire.DecodeIdentity(reply.Payload)
	if err != nil {
		n.fail(err)
		return uuid.Nil, fmt.Errorf("init: %w", err)
	}

	n.identityMu.Lock()
	n.identity = id
	n.identityMu.Unlock()
	n.nodeID.Store(id.String())

	if !n.transition(StateUninitialized, StateConnected, "init acknowledged") {
		return uuid.Nil, fmt.Errorf("init: %w", n.closedErr())
	}
	return id, nil
}

// Disconnect performs the DISCONN handshake, then closes the connection and
// waits for the receiver to exit.
func (n *ClientNode) Disconnect(ctx context.Context, reason string) error {
	if st := n.State(); st != StateConnected {
		return fmt.Errorf("%w: disconnect in state %s", ErrInvalidState, st)
	}

	if _, err := n.request(ctx, wire.CmdDisconn, []byte(reason)); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	_ = n.shutdown("disconnect acknowledged")

	timer := time.NewTimer(n.config.ReplyTimeout)
	defer timer.Stop()

	select {
	case <-n.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("disconnect: %w: receiver still running", ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("disconnect: %w", ctx.Err())
	}
}

func (n *ClientNode) receive() {
	defer close(n.done)

	for {
		data, err := n.conn.ReadFrame()
		if err != nil {
			switch {
			case n.isClosing():
			case n.disconnecting.Load():
				_ = n.shutdown("server closed after DISCONN")
			default:
				n.fail(classifyConnErr(err))
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			n.fail(err)
			return
		}

		if msg.Command == wire.CmdSend {
			n.logMessage(log.DirectionIn, msg, nil)
			select {
			case n.turn <- struct{}{}:
			default:
				n.logDuplicateTurn()
				n.warnLog("SEND received while a turn is already held")
			}
			continue
		}

		select {
		case n.replies <- msg:
		default:
			n.logMessage(log.DirectionIn, msg, nil)
			n.warnLog("unsolicited frame dropped", "command", msg.Command)
		}
	}
}

// request runs one exchange: wait for a turn, write, wait for OK.
func (n *ClientNode) request(ctx context.Context, cmd wire.Command, payload []byte) (*wire.Message, error) {
	if !n.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	defer n.inFlight.Store(false)

	if err := n.awaitTurn(ctx); err != nil {
		return nil, err
	}

	if cmd == wire.CmdDisconn {
		n.disconnecting.Store(true)
	}

	start := time.Now()
	if err := n.write(cmd, payload); err != nil {
		n.fail(err)
		return nil, err
	}

	reply, err := n.awaitReply(ctx, cmd)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)
	n.logMessage(log.DirectionIn, reply, &latency)

	if reply.Command != wire.CmdOK {
		err := fmt.Errorf("%w: %s in reply to %s", ErrUnexpectedCommand, reply.Command, cmd)
		n.fail(err)
		return nil, err
	}
	return reply, nil
}

func (n *ClientNode) awaitTurn(ctx context.Context) error {
	timer := time.NewTimer(n.config.TurnTimeout)
	defer timer.Stop()

	select {
	case <-n.turn:
		return nil
	case <-n.done:
		return n.closedErr()
	case <-timer.C:
		err := fmt.Errorf("%w: no SEND within %s", ErrTimeout, n.config.TurnTimeout)
		n.fail(err)
		return err
	case <-ctx.Done():
		n.fail(ctx.Err())
		return ctx.Err()
	}
}

func (n *ClientNode) awaitReply(ctx context.Context, cmd wire.Command) (*wire.Message, error) {
	timer := time.NewTimer(n.config.ReplyTimeout)
	defer timer.Stop()

	select {
	case reply := <-n.replies:
		return reply, nil
	case <-n.done:
		// The reply may have landed just before the receiver exited.
		select {
		case reply := <-n.replies:
			return reply, nil
		default:
			return nil, n.closedErr()
		}
	case <-timer.C:
		err := fmt.Errorf("%w: no reply to %s within %s", ErrTimeout, cmd, n.config.ReplyTimeout)
		n.fail(err)
		return nil, err
	case <-ctx.Done():
		n.fail(ctx.Err())
		return nil, ctx.Err()
	}
}

func (n *ClientNode) closedErr() error {
	err := n.Err()
	switch {
	case err == nil:
		return ErrConnectionClosed
	case errors.Is(err, ErrConnectionClosed):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
}

func (n *ClientNode) fail(err error) {
	n.setErr(err)
	n.logError(errorLayer(err), err, "node failed")
	_ = n.shutdown(err.Error())
}
