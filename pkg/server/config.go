package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/node"
)

// Defaults.
const (
	DefaultAddress               = ":9595"
	DefaultPollInterval          = 2 * time.Second
	DefaultHandshakeTimeout      = 30 * time.Second
	DefaultReaperInterval        = 5 * time.Second
	DefaultMaxConnections        = 1024
	DefaultMaxConcurrentHandlers = 64
)

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address.
	Address string

	// PollInterval is how often a supervisor checks its node for a pending
	// frame when it has not been woken.
	PollInterval time.Duration

	// HandshakeTimeout bounds how long a connection may stay uninitialized
	// (0 = no limit).
	HandshakeTimeout time.Duration

	// ReaperInterval is how often stale handshakes are checked.
	ReaperInterval time.Duration

	// MaxConnections caps live connections (0 = unlimited).
	MaxConnections int

	// MaxConcurrentHandlers bounds how many nodes run handlers at once.
	MaxConcurrentHandlers int64

	// MaxMessageSize is the maximum frame size (0 = transport default).
	MaxMessageSize uint32

	// WriteTimeout bounds each frame write (0 = no timeout).
	WriteTimeout time.Duration

	// InstanceName is the mDNS instance name (empty = VIP2P-<host>).
	InstanceName string

	// Name is the advertised human-readable name.
	Name string

	// Node configures every accepted node.
	Node node.Config

	// Logger is the optional logger for debug output. Used for nodes too
	// unless Node.Logger is set.
	Logger *slog.Logger

	// ProtocolLogger captures frames, commands and state changes (optional).
	ProtocolLogger log.Logger

	// Advertiser publishes the server over mDNS (optional).
	Advertiser discovery.Advertiser

	// OnRegister is called after a node is registered. Must not block.
	OnRegister func(id uuid.UUID)

	// OnDisconnect is called after a node is removed. Must not block.
	OnDisconnect func(id uuid.UUID, reason string)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Address:               DefaultAddress,
		PollInterval:          DefaultPollInterval,
		HandshakeTimeout:      DefaultHandshakeTimeout,
		ReaperInterval:        DefaultReaperInterval,
		MaxConnections:        DefaultMaxConnections,
		MaxConcurrentHandlers: DefaultMaxConcurrentHandlers,
		Node:                  node.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Address == "":
		return fmt.Errorf("%w: address required", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.HandshakeTimeout < 0:
		return fmt.Errorf("%w: negative handshake timeout", ErrInvalidConfig)
	case c.HandshakeTimeout > 0 && c.ReaperInterval <= 0:
		return fmt.Errorf("%w: reaper interval must be positive", ErrInvalidConfig)
	case c.MaxConnections < 0:
		return fmt.Errorf("%w: negative connection cap", ErrInvalidConfig)
	case c.MaxConcurrentHandlers <= 0:
		return fmt.Errorf("%w: handler limit must be positive", ErrInvalidConfig)
	}
	return nil
}
