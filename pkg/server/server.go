package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/node"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// State represents the server lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Server accepts connections and owns the registry of connected nodes.
type Server struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	listener *transport.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	registry    *Registry
	tracker     *nodeTracker
	handlers    *semaphore.Weighted
	activeConns atomic.Int32
	owner       *registrar
}

// New creates a server.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Node.Logger == nil {
		config.Node.Logger = config.Logger
	}
	if config.Node.ProtocolLogger == nil {
		config.Node.ProtocolLogger = config.ProtocolLogger
	}
	if config.Node.HandshakeTimeout == 0 {
		config.Node.HandshakeTimeout = config.HandshakeTimeout
	}

	s := &Server{
		config:   config,
		logger:   config.Logger,
		state:    StateIdle,
		registry: NewRegistry(),
		tracker:  newNodeTracker(),
		handlers: semaphore.NewWeighted(config.MaxConcurrentHandlers),
	}
	s.owner = &registrar{s: s}
	return s, nil
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the listener and launches the accept loop. The server stops
// when ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateStopped {
		return ErrAlreadyStarted
	}

	listener, err := transport.Listen(s.config.Address, transport.ConnOptions{
		MaxMessageSize: s.config.MaxMessageSize,
		WriteTimeout:   s.config.WriteTimeout,
		Logger:         s.config.ProtocolLogger,
		Role:           log.RoleServer,
	})
	if err != nil {
		return err
	}

	if s.config.Advertiser != nil {
		port := 0
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		if err := s.config.Advertiser.Advertise(ctx, s.serverInfo(port)); err != nil {
			_ = listener.Close()
			return fmt.Errorf("advertise: %w", err)
		}
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateRunning

	s.wg.Add(1)
	go s.acceptLoop()

	// Cancelling the parent context closes the listener so Accept returns.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		_ = listener.Close()
	}()

	if s.config.HandshakeTimeout > 0 {
		s.wg.Add(1)
		go s.runStaleHandshakeReaper()
	}

	s.debugLog("server started", "addr", listener.Addr().String())
	return nil
}

// ListenAndServe starts the server and blocks until ctx is cancelled or Stop
// is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	done := s.ctx.Done()
	s.mu.Unlock()

	<-done
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return nil
}

// Stop closes the listener and every live node, then waits for the server's
// goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.cancel()
	_ = s.listener.Close()

	if s.config.Advertiser != nil {
		s.config.Advertiser.StopAll()
	}

	s.tracker.Each(func(n *node.ServerNode) {
		s.closeNode(n, "server stopping")
	})

	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.debugLog("server stopped")
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Registry returns the registry for read access.
func (s *Server) Registry() *Registry {
	return s.registry
}

// RegisteredIdentities returns a snapshot of the registered identities.
func (s *Server) RegisteredIdentities() []uuid.UUID {
	return s.registry.Identities()
}

// ConnectionCount returns the number of live connections, registered or not.
func (s *Server) ConnectionCount() int {
	return int(s.activeConns.Load())
}

// Disconn removes n from the registry and closes it. It is the only path
// that removes registry entries. An absent identity returns
// ErrRegistryInconsistency; the node is closed anyway.
func (s *Server) Disconn(n *node.ServerNode, reason string) error {
	id := n.Identity()

	_, err := s.registry.Remove(id)
	_ = n.Close(reason)

	if err != nil {
		s.warnLog("disconn", "node", id, "reason", reason, "error", err)
		return err
	}

	s.debugLog("node disconnected", "node", id, "reason", reason)
	s.logRegistry(n, "REMOVED", reason)
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(id, reason)
	}
	return nil
}

// closeNode closes n, going through Disconn when it is registered.
func (s *Server) closeNode(n *node.ServerNode, reason string) {
	if n.State() == node.StateConnected && s.registry.Contains(n.Identity()) {
		_ = s.Disconn(n, reason)
		return
	}
	_ = n.Close(reason)
}

// forget removes n from the registry if it is still there once its receiver
// has exited. This covers a close that raced with registration.
func (s *Server) forget(n *node.ServerNode) {
	if cur, ok := s.registry.Lookup(n.Identity()); !ok || cur != n {
		return
	}
	reason := "connection closed"
	if err := n.Err(); err != nil {
		reason = err.Error()
	}
	_ = s.Disconn(n, reason)
}

func (s *Server) register(n *node.ServerNode) error {
	if err := s.registry.Insert(n); err != nil {
		return err
	}

	s.debugLog("node registered", "node", n.Identity(), "remote", n.Conn().RemoteAddr())
	s.logRegistry(n, "REGISTERED", "init")
	if s.config.OnRegister != nil {
		s.config.OnRegister(n.Identity())
	}
	return nil
}

// acceptLoop accepts connections. It does no protocol work itself.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.debugLog("accept failed", "error", err)
			continue
		}

		// Only this goroutine increments, so check and add do not race.
		if limit := s.config.MaxConnections; limit > 0 && int(s.activeConns.Load()) >= limit {
			s.debugLog("connection cap reached, rejecting", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		s.activeConns.Add(1)

		n := node.NewServerNode(conn, s.owner, s.config.Node)
		s.tracker.Add(n)

		s.wg.Add(1)
		go s.supervise(n)
		n.Start()
	}
}

// supervise consumes the node's pending frames until the node finishes.
func (s *Server) supervise(n *node.ServerNode) {
	defer s.wg.Done()
	defer s.activeConns.Add(-1)
	defer s.tracker.Remove(n)
	defer s.forget(n)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.Done():
			return
		case <-s.ctx.Done():
			s.closeNode(n, "server stopping")
			<-n.Done()
			return
		case <-n.Ready():
			s.handle(n)
		case <-ticker.C:
			s.handle(n)
		}
	}
}

func (s *Server) handle(n *node.ServerNode) {
	if !n.HasPending() {
		return
	}
	if err := s.handlers.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.handlers.Release(1)
	n.Handle()
}

// runStaleHandshakeReaper periodically closes connections that have not
// completed INIT within HandshakeTimeout.
func (s *Server) runStaleHandshakeReaper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if closed := s.tracker.CloseStale(s.config.HandshakeTimeout); closed > 0 {
				s.debugLog("staleHandshakeReaper: closed connections", "count", closed)
			}
		}
	}
}

func (s *Server) serverInfo(port int) *discovery.ServerInfo {
	return &discovery.ServerInfo{
		InstanceName:   s.config.InstanceName,
		Port:           uint16(port),
		Version:        wire.ProtocolVersion,
		Name:           s.config.Name,
		MaxConnections: s.config.MaxConnections,
	}
}

func (s *Server) logRegistry(n *node.ServerNode, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	e := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: n.Conn().ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerNode,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		NodeID:       n.Identity().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRegistry,
			NewState: newState,
			Reason:   reason,
		},
	}
	if addr := n.Conn().RemoteAddr(); addr != nil {
		e.RemoteAddr = addr.String()
	}
	s.config.ProtocolLogger.Log(e)
}

// debugLog logs a debug message if logging is enabled.
func (s *Server) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// registrar adapts the server to node.Owner.
type registrar struct {
	s *Server
}

func (r *registrar) Register(n *node.ServerNode) error {
	return r.s.register(n)
}

func (r *registrar) Disconn(n *node.ServerNode, reason string) error {
	return r.s.Disconn(n, reason)
}

var _ node.Owner = (*registrar)(nil)
