package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// fakeOwner is a minimal registry.
type fakeOwner struct {
	mu          sync.Mutex
	nodes       map[uuid.UUID]*ServerNode
	disconns    []string
	registerErr error
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{nodes: make(map[uuid.UUID]*ServerNode)}
}

func (o *fakeOwner) Register(n *ServerNode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.registerErr != nil {
		return o.registerErr
	}
	o.nodes[n.Identity()] = n
	return nil
}

func (o *fakeOwner) Disconn(n *ServerNode, reason string) error {
	o.mu.Lock()
	_, ok := o.nodes[n.Identity()]
	delete(o.nodes, n.Identity())
	o.disconns = append(o.disconns, reason)
	o.mu.Unlock()

	_ = n.Close(reason)
	if !ok {
		return errors.New("not registered")
	}
	return nil
}

func (o *fakeOwner) contains(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.nodes[id]
	return ok
}

func (o *fakeOwner) disconnCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.disconns)
}

// captureLogger collects protocol events.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) find(match func(log.Event) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if match(e) {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		TurnTimeout:    time.Second,
		ReplyTimeout:   time.Second,
		HandlerTimeout: time.Second,
	}
}

// supervise drives Handle until the node finishes.
func supervise(n *ServerNode) {
	go func() {
		for {
			select {
			case <-n.Ready():
				n.Handle()
			case <-n.Done():
				return
			}
		}
	}()
}

// peer is the raw side of a pipe used to script one end of the exchange.
type peer struct {
	t    *testing.T
	conn *transport.StreamConn
}

func (p *peer) send(cmd wire.Command, payload []byte) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteFrame(wire.Encode(cmd, payload)))
}

func (p *peer) expect(cmd wire.Command) *wire.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := p.conn.ReadFrame()
	require.NoError(p.t, err)
	msg, err := wire.Decode(data)
	require.NoError(p.t, err)
	require.Equal(p.t, cmd, msg.Command, "got %s", msg)
	return msg
}

func startServerNode(t *testing.T, owner Owner, config Config) (*ServerNode, *peer) {
	t.Helper()
	local, remote := transport.Pipe(transport.ConnOptions{})
	n := NewServerNode(local, owner, config)
	t.Cleanup(func() {
		_ = n.Close("test done")
		_ = remote.Close()
	})
	n.Start()
	return n, &peer{t: t, conn: remote}
}

func startClientNode(t *testing.T, config Config) (*ClientNode, *peer) {
	t.Helper()
	local, remote := transport.Pipe(transport.ConnOptions{})
	n := NewClientNode(local, config)
	t.Cleanup(func() {
		_ = n.Close("test done")
		_ = remote.Close()
	})
	n.Start()
	return n, &peer{t: t, conn: remote}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", StateUninitialized.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, DefaultTurnTimeout, c.TurnTimeout)
	assert.Equal(t, DefaultReplyTimeout, c.ReplyTimeout)
	assert.Equal(t, DefaultHandlerTimeout, c.HandlerTimeout)
	assert.Equal(t, DefaultConfig().TurnTimeout, c.TurnTimeout)
}

func TestServerNodeInit(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	assert.Equal(t, StateUninitialized, n.State())

	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)

	reply := p.expect(wire.CmdOK)
	require.Len(t, reply.Payload, wire.IdentitySize)

	id, err := wire.DecodeIdentity(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, n.Identity(), id)
	assert.True(t, owner.contains(id))
	assert.Equal(t, StateConnected, n.State())

	// Next turn follows the reply.
	p.expect(wire.CmdSend)
}

func TestServerNodeDropsFramesBeforeInit(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	p.send(wire.CmdDisconn, []byte("too early"))

	// Dropped: the node grants another turn and stays uninitialized.
	p.expect(wire.CmdSend)
	assert.Equal(t, StateUninitialized, n.State())
	assert.Equal(t, 0, owner.disconnCount())

	p.send(wire.CmdInit, nil)
	p.expect(wire.CmdOK)
	assert.Equal(t, StateConnected, n.State())
}

func TestServerNodeDisconn(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)
	p.expect(wire.CmdOK)
	p.expect(wire.CmdSend)

	p.send(wire.CmdDisconn, []byte("bye"))
	reply := p.expect(wire.CmdOK)
	assert.Empty(t, reply.Payload)

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
	assert.Equal(t, StateClosed, n.State())
	assert.False(t, owner.contains(n.Identity()))
	assert.Equal(t, []string{"bye"}, owner.disconns)
	assert.NoError(t, n.Err())
}

func TestServerNodeUnexpectedCommandWhileConnected(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)
	p.expect(wire.CmdOK)
	p.expect(wire.CmdSend)

	p.send(wire.CmdInit, nil)

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.ErrorIs(t, n.Err(), ErrUnexpectedCommand)
	assert.False(t, owner.contains(n.Identity()))
	assert.Equal(t, 1, owner.disconnCount())
}

func TestServerNodeMalformedFrameCloses(t *testing.T) {
	n, p := startServerNode(t, newFakeOwner(), testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	require.NoError(t, p.conn.WriteFrame([]byte("VIP2P\r\n1.0\r\nINIT")))

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.ErrorIs(t, n.Err(), wire.ErrProtocolFrame)
	assert.Equal(t, StateClosed, n.State())
}

func TestServerNodePeerCloseWhileConnected(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)
	p.expect(wire.CmdOK)
	p.expect(wire.CmdSend)
	require.NoError(t, p.conn.Close())

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.ErrorIs(t, n.Err(), ErrConnectionClosed)
	assert.False(t, owner.contains(n.Identity()))
}

func TestServerNodeHandlerTimeout(t *testing.T) {
	config := testConfig()
	config.HandlerTimeout = 50 * time.Millisecond
	n, p := startServerNode(t, newFakeOwner(), config)

	// No supervisor: the pending INIT is never consumed.
	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.ErrorIs(t, n.Err(), ErrTimeout)
}

func TestServerNodeHandshakeReadTimeout(t *testing.T) {
	config := testConfig()
	config.HandshakeTimeout = 50 * time.Millisecond
	n, p := startServerNode(t, newFakeOwner(), config)
	supervise(n)

	p.expect(wire.CmdSend)

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.ErrorIs(t, n.Err(), ErrTimeout)
}

func TestServerNodeHandleEmpty(t *testing.T) {
	n := NewServerNode(nil, newFakeOwner(), testConfig())
	assert.False(t, n.HasPending())
	assert.False(t, n.Handle())
}

func TestServerNodeExpire(t *testing.T) {
	owner := newFakeOwner()
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)
	p.expect(wire.CmdSend)

	assert.True(t, n.Expire("handshake timeout"))
	assert.False(t, n.Expire("again"))
	assert.Equal(t, StateClosed, n.State())
	assert.ErrorIs(t, n.Err(), ErrTimeout)

	// A connected node is not expired.
	n2, p2 := startServerNode(t, owner, testConfig())
	supervise(n2)
	p2.expect(wire.CmdSend)
	p2.send(wire.CmdInit, nil)
	p2.expect(wire.CmdOK)
	assert.False(t, n2.Expire("handshake timeout"))
	assert.Equal(t, StateConnected, n2.State())
}

func TestServerNodeRegisterFailure(t *testing.T) {
	owner := newFakeOwner()
	owner.registerErr = errors.New("registry full")
	n, p := startServerNode(t, owner, testConfig())
	supervise(n)

	p.expect(wire.CmdSend)
	p.send(wire.CmdInit, nil)

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node not closed")
	}
	assert.EqualError(t, n.Err(), "registry full")
}

func TestServerNodeReplySingleFlight(t *testing.T) {
	n := NewServerNode(nil, newFakeOwner(), testConfig())
	n.inFlight.Store(true)
	assert.ErrorIs(t, n.Reply(wire.CmdOK, nil), ErrRequestInFlight)
}

func TestClientServerHandshake(t *testing.T) {
	owner := newFakeOwner()
	clientConn, serverConn := transport.Pipe(transport.ConnOptions{})

	sn := NewServerNode(serverConn, owner, testConfig())
	cn := NewClientNode(clientConn, testConfig())
	t.Cleanup(func() {
		_ = sn.Close("test done")
		_ = cn.Close("test done")
	})
	sn.Start()
	supervise(sn)
	cn.Start()

	ctx := context.Background()
	id, err := cn.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, sn.Identity(), id)
	assert.Equal(t, id, cn.Identity())
	assert.Equal(t, StateConnected, cn.State())
	assert.True(t, owner.contains(id))

	require.NoError(t, cn.Disconnect(ctx, "bye"))
	assert.Equal(t, StateClosed, cn.State())

	select {
	case <-sn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server node still running")
	}
	assert.False(t, owner.contains(id))
	assert.NoError(t, cn.Err())
}

func TestClientNodeInitTwice(t *testing.T) {
	n, p := startClientNode(t, testConfig())

	p.send(wire.CmdSend, nil)
	go func() {
		p.expect(wire.CmdInit)
		p.send(wire.CmdOK, wire.EncodeIdentity(uuid.New()))
	}()

	_, err := n.Init(context.Background())
	require.NoError(t, err)

	_, err = n.Init(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestClientNodeDisconnectBeforeInit(t *testing.T) {
	n, _ := startClientNode(t, testConfig())
	err := n.Disconnect(context.Background(), "bye")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestClientNodeTurnTimeout(t *testing.T) {
	config := testConfig()
	config.TurnTimeout = 50 * time.Millisecond
	n, _ := startClientNode(t, config)

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateClosed, n.State())

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver still running")
	}
}

func TestClientNodeReplyTimeout(t *testing.T) {
	config := testConfig()
	config.ReplyTimeout = 50 * time.Millisecond
	n, p := startClientNode(t, config)

	p.send(wire.CmdSend, nil)
	go func() {
		_, _ = p.conn.ReadFrame()
	}()

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateClosed, n.State())
}

func TestClientNodeContextCancel(t *testing.T) {
	n, _ := startClientNode(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Init(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, n.State())
}

func TestClientNodeSingleFlight(t *testing.T) {
	n, _ := startClientNode(t, testConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := n.Init(context.Background())
		errCh <- err
	}()

	require.Eventually(t, n.inFlight.Load, time.Second, time.Millisecond)

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, ErrRequestInFlight)

	_ = n.Close("test done")
	assert.ErrorIs(t, <-errCh, ErrConnectionClosed)
}

func TestClientNodeUnexpectedReply(t *testing.T) {
	n, p := startClientNode(t, testConfig())

	p.send(wire.CmdSend, nil)
	go func() {
		p.expect(wire.CmdInit)
		p.send(wire.CmdDisconn, []byte("nope"))
	}()

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedCommand)
	assert.Equal(t, StateClosed, n.State())
}

func TestClientNodeInvalidIdentity(t *testing.T) {
	n, p := startClientNode(t, testConfig())

	p.send(wire.CmdSend, nil)
	go func() {
		p.expect(wire.CmdInit)
		p.send(wire.CmdOK, []byte("short"))
	}()

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, wire.ErrInvalidIdentity)
	assert.Equal(t, StateClosed, n.State())
}

func TestClientNodeAcceptsHexIdentity(t *testing.T) {
	config := testConfig()
	config.ProtocolLogger = log.NoopLogger{}
	n, p := startClientNode(t, config)
	want := uuid.New()

	p.send(wire.CmdSend, nil)
	go func() {
		p.expect(wire.CmdInit)
		p.send(wire.CmdOK, []byte(want.String()))
	}()

	got, err := n.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientNodeDuplicateTurnLogged(t *testing.T) {
	capture := &captureLogger{}
	config := testConfig()
	config.ProtocolLogger = capture
	n, p := startClientNode(t, config)

	p.send(wire.CmdSend, nil)
	p.send(wire.CmdSend, nil)

	assert.Eventually(t, func() bool {
		return capture.find(func(e log.Event) bool {
			return e.ControlMsg != nil && e.ControlMsg.Duplicate
		})
	}, time.Second, 5*time.Millisecond)

	// The violation is not fatal.
	assert.Equal(t, StateUninitialized, n.State())
}

func TestClientNodePeerCloseFailsRequest(t *testing.T) {
	n, p := startClientNode(t, testConfig())

	p.send(wire.CmdSend, nil)
	go func() {
		p.expect(wire.CmdInit)
		_ = p.conn.Close()
	}()

	_, err := n.Init(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, StateClosed, n.State())
}

func TestProtocolLoggerRecordsHandshake(t *testing.T) {
	capture := &captureLogger{}
	config := testConfig()
	config.ProtocolLogger = capture

	clientConn, serverConn := transport.Pipe(transport.ConnOptions{})
	sn := NewServerNode(serverConn, newFakeOwner(), config)
	cn := NewClientNode(clientConn, config)
	t.Cleanup(func() {
		_ = sn.Close("test done")
		_ = cn.Close("test done")
	})
	sn.Start()
	supervise(sn)
	cn.Start()

	id, err := cn.Init(context.Background())
	require.NoError(t, err)

	assert.True(t, capture.find(func(e log.Event) bool {
		return e.Message != nil && e.Message.Command == "OK" &&
			e.Message.Identity == id.String() && e.Message.Latency != nil
	}), "client records OK with latency")
	assert.True(t, capture.find(func(e log.Event) bool {
		return e.StateChange != nil && e.LocalRole == log.RoleServer &&
			e.StateChange.NewState == StateConnected.String()
	}), "server records state change")
}
