package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/connection"
	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/node"
	"github.com/vip2p-protocol/vip2p-go/pkg/transport"
)

// DefaultDialTimeout bounds the TCP dial.
const DefaultDialTimeout = 10 * time.Second

// ErrNilHandle is returned when Disconnect gets no handle.
var ErrNilHandle = errors.New("nil handle")

// Config configures a Client.
type Config struct {
	// DialTimeout bounds the TCP dial.
	DialTimeout time.Duration

	// MaxMessageSize is the maximum frame size (0 = transport default).
	MaxMessageSize uint32

	// WriteTimeout bounds each frame write (0 = no timeout).
	WriteTimeout time.Duration

	// Node configures the handshake timeouts.
	Node node.Config

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger captures frames, commands and state changes (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DialTimeout: DefaultDialTimeout,
		Node:        node.DefaultConfig(),
	}
}

// Client opens connections to servers.
type Client struct {
	config Config
}

// New creates a client.
func New(config Config) *Client {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Node.Logger == nil {
		config.Node.Logger = config.Logger
	}
	if config.Node.ProtocolLogger == nil {
		config.Node.ProtocolLogger = config.ProtocolLogger
	}
	return &Client{config: config}
}

// Handle is one connected session.
type Handle struct {
	// Identity is the identity the server assigned.
	Identity uuid.UUID

	address string
	node    *node.ClientNode
}

// Address returns the server address.
func (h *Handle) Address() string {
	return h.address
}

// State returns the node's handshake state.
func (h *Handle) State() node.State {
	return h.node.State()
}

// Done is closed when the connection's receiver has exited, whether by
// Disconnect or because the server went away.
func (h *Handle) Done() <-chan struct{} {
	return h.node.Done()
}

// Err returns the error that ended the connection, if any.
func (h *Handle) Err() error {
	return h.node.Err()
}

// Close drops the connection without a DISCONN exchange.
func (h *Handle) Close() error {
	return h.node.Close("closed by client")
}

// Connect dials address and performs the INIT handshake.
func (c *Client) Connect(ctx context.Context, address string) (*Handle, error) {
	conn, err := transport.Dial(ctx, address, transport.DialConfig{
		ConnectTimeout: c.config.DialTimeout,
		ConnOptions: transport.ConnOptions{
			MaxMessageSize: c.config.MaxMessageSize,
			WriteTimeout:   c.config.WriteTimeout,
			Logger:         c.config.ProtocolLogger,
			Role:           log.RoleClient,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	n := node.NewClientNode(conn, c.config.Node)
	n.Start()

	id, err := n.Init(ctx)
	if err != nil {
		_ = n.Close("init failed")
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	c.debugLog("connected", "addr", address, "identity", id)
	return &Handle{Identity: id, address: address, node: n}, nil
}

// ConnectWithRetry calls Connect until it succeeds, waiting between attempts
// with b. maxAttempts of 0 retries until ctx is done.
func (c *Client) ConnectWithRetry(ctx context.Context, address string, b *connection.Backoff, maxAttempts int) (*Handle, error) {
	var h *Handle
	err := connection.Retry(ctx, b, maxAttempts, func(ctx context.Context) error {
		var err error
		h, err = c.Connect(ctx, address)
		return err
	}, func(attempt int, err error) {
		c.debugLog("connect failed, retrying", "addr", address, "attempt", attempt, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Disconnect performs the DISCONN handshake and closes the connection.
func (c *Client) Disconnect(ctx context.Context, h *Handle, reason string) error {
	if h == nil {
		return ErrNilHandle
	}
	if err := h.node.Disconnect(ctx, reason); err != nil {
		return err
	}
	c.debugLog("disconnected", "addr", h.address, "identity", h.Identity, "reason", reason)
	return nil
}

// debugLog logs a debug message if logging is enabled.
func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}
