package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// base holds what server and client nodes share: the connection, the state
// machine, the single-flight guard and teardown bookkeeping.
type base struct {
	conn   transport.Conn
	config Config
	role   log.Role

	state    atomic.Int32
	inFlight atomic.Bool

	// nodeID is the identity string used in log events.
	nodeID atomic.Value

	// closing is closed when teardown starts; done when the receiver exits.
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	recvErrMu sync.Mutex
	recvErr   error
}

func (b *base) init(conn transport.Conn, config Config, role log.Role) {
	config.applyDefaults()
	b.conn = conn
	b.config = config
	b.role = role
	b.closing = make(chan struct{})
	b.done = make(chan struct{})
	b.nodeID.Store("")
}

// State returns the current handshake state.
func (b *base) State() State {
	return State(b.state.Load())
}

// Conn returns the node's connection.
func (b *base) Conn() transport.Conn {
	return b.conn
}

// Done is closed when the receiver goroutine has exited.
func (b *base) Done() <-chan struct{} {
	return b.done
}

// Closing is closed when teardown has started.
func (b *base) Closing() <-chan struct{} {
	return b.closing
}

// Err returns the error that stopped the receiver, if any.
func (b *base) Err() error {
	b.recvErrMu.Lock()
	defer b.recvErrMu.Unlock()
	return b.recvErr
}

func (b *base) setErr(err error) {
	b.recvErrMu.Lock()
	defer b.recvErrMu.Unlock()
	if b.recvErr == nil {
		b.recvErr = err
	}
}

func (b *base) isClosing() bool {
	select {
	case <-b.closing:
		return true
	default:
		return false
	}
}

// transition moves from one state to another. It fails if the node is not
// in the expected state.
func (b *base) transition(from, to State, reason string) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	b.logState(from, to, reason)
	return true
}

// markClosed moves the node to the terminal state from wherever it is.
func (b *base) markClosed(reason string) State {
	for {
		cur := b.State()
		if cur == StateClosed {
			return cur
		}
		if b.state.CompareAndSwap(int32(cur), int32(StateClosed)) {
			b.logState(cur, StateClosed, reason)
			return cur
		}
	}
}

// shutdown signals the receiver to stop, then releases the connection.
func (b *base) shutdown(reason string) error {
	b.closeOnce.Do(func() {
		close(b.closing)
		b.markClosed(reason)
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}

// write sends one encoded frame and records it.
func (b *base) write(cmd wire.Command, payload []byte) error {
	if err := b.conn.WriteFrame(wire.Encode(cmd, payload)); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	b.logMessage(log.DirectionOut, &wire.Message{Command: cmd, Payload: payload}, nil)
	return nil
}

// classifyConnErr maps transport errors to node errors.
func classifyConnErr(err error) error {
	switch {
	case transport.IsTimeout(err):
		return fmt.Errorf("%w: read: %v", ErrTimeout, err)
	case transport.IsEOF(err):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	default:
		return err
	}
}

func (b *base) id() string {
	return b.nodeID.Load().(string)
}

func (b *base) debugLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, b.logArgs(args)...)
	}
}

func (b *base) warnLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Warn(msg, b.logArgs(args)...)
	}
}

func (b *base) logArgs(args []any) []any {
	out := make([]any, 0, len(args)+4)
	out = append(out, "role", b.role.String(), "conn", b.conn.ID())
	if id := b.id(); id != "" {
		out = append(out, "node", id)
	}
	return append(out, args...)
}

func (b *base) event(direction log.Direction, layer log.Layer, category log.Category) log.Event {
	e := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: b.conn.ID(),
		Direction:    direction,
		Layer:        layer,
		Category:     category,
		LocalRole:    b.role,
		NodeID:       b.id(),
	}
	if addr := b.conn.RemoteAddr(); addr != nil {
		e.RemoteAddr = addr.String()
	}
	return e
}

func (b *base) logMessage(direction log.Direction, msg *wire.Message, latency *time.Duration) {
	if b.config.ProtocolLogger == nil {
		return
	}

	if msg.Command.IsControl() {
		e := b.event(direction, log.LayerWire, log.CategoryControl)
		e.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgSend}
		b.config.ProtocolLogger.Log(e)
		return
	}

	e := b.event(direction, log.LayerWire, log.CategoryMessage)
	e.Message = &log.MessageEvent{
		Command:     msg.Command.String(),
		PayloadSize: len(msg.Payload),
		Latency:     latency,
	}
	switch msg.Command {
	case wire.CmdDisconn:
		e.Message.Reason = string(msg.Payload)
	case wire.CmdOK:
		if id, err := wire.DecodeIdentity(msg.Payload); err == nil {
			e.Message.Identity = id.String()
		}
	}
	b.config.ProtocolLogger.Log(e)
}

func (b *base) logDuplicateTurn() {
	if b.config.ProtocolLogger == nil {
		return
	}
	e := b.event(log.DirectionIn, log.LayerWire, log.CategoryControl)
	e.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgSend, Duplicate: true}
	b.config.ProtocolLogger.Log(e)
}

func (b *base) logState(from, to State, reason string) {
	b.debugLog("state change", "from", from, "to", to, "reason", reason)
	if b.config.ProtocolLogger == nil {
		return
	}
	e := b.event(log.DirectionIn, log.LayerNode, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityNode,
		OldState: from.String(),
		NewState: to.String(),
		Reason:   reason,
	}
	b.config.ProtocolLogger.Log(e)
}

func (b *base) logError(layer log.Layer, err error, context string) {
	b.warnLog(context, "error", err)
	if b.config.ProtocolLogger == nil {
		return
	}
	e := b.event(log.DirectionIn, layer, log.CategoryError)
	e.Error = &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	b.config.ProtocolLogger.Log(e)
}

// errorLayer picks the layer an error belongs to for capture.
func errorLayer(err error) log.Layer {
	switch {
	case errors.Is(err, wire.ErrProtocolFrame):
		return log.LayerWire
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrTimeout):
		return log.LayerTransport
	default:
		return log.LayerNode
	}
}
