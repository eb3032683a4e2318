package node

import (
	"log/slog"
	"time"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
)

// Default timeouts.
const (
	DefaultTurnTimeout    = 10 * time.Second
	DefaultReplyTimeout   = 10 * time.Second
	DefaultHandlerTimeout = 10 * time.Second
)

// Config configures a node.
type Config struct {
	// TurnTimeout bounds how long a client waits for a SEND grant.
	TurnTimeout time.Duration

	// ReplyTimeout bounds how long a client waits for the reply to a request.
	ReplyTimeout time.Duration

	// HandlerTimeout bounds how long a server receiver waits for the
	// supervisor to consume a pending frame.
	HandlerTimeout time.Duration

	// HandshakeTimeout bounds how long a server receiver waits for a frame
	// while the node is still uninitialized (0 = no limit).
	HandshakeTimeout time.Duration

	// IdleTimeout bounds how long a server receiver waits for the next
	// frame after granting a turn (0 = no limit).
	IdleTimeout time.Duration

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger captures decoded commands and state changes (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with default timeouts.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:    DefaultTurnTimeout,
		ReplyTimeout:   DefaultReplyTimeout,
		HandlerTimeout: DefaultHandlerTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
}
