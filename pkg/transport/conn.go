package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
)

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is a bidirectional frame stream shared by a node's receiver and issuer.
type Conn interface {
	// ReadFrame blocks until one complete frame arrives. It returns io.EOF
	// when the peer closed the stream cleanly.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one frame completely or fails.
	// Safe for concurrent use.
	WriteFrame(data []byte) error

	// SetReadDeadline bounds the next ReadFrame calls. Zero clears it.
	SetReadDeadline(t time.Time) error

	// Close closes the connection. Subsequent calls are no-ops.
	Close() error

	// ID returns the unique connection identifier used in logs.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// ConnOptions configures a StreamConn.
type ConnOptions struct {
	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// WriteTimeout bounds each frame write (0 = no timeout).
	WriteTimeout time.Duration

	// Logger captures raw frames (optional).
	Logger log.Logger

	// Role is recorded in captured events.
	Role log.Role
}

// StreamConn implements Conn over a net.Conn.
type StreamConn struct {
	conn   net.Conn
	framer *Framer
	opts   ConnOptions
	id     string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps conn with length-prefixed framing.
func NewStreamConn(conn net.Conn, opts ConnOptions) *StreamConn {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	sc := &StreamConn{
		conn:   conn,
		framer: NewFramerWithMaxSize(conn, opts.MaxMessageSize),
		opts:   opts,
		id:     uuid.New().String(),
	}
	if opts.Logger != nil {
		sc.framer.SetLogger(opts.Logger, sc.id, opts.Role, addrString(conn.RemoteAddr()))
	}
	return sc
}

// ID returns the connection identifier.
func (c *StreamConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *StreamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// ReadFrame reads one frame.
func (c *StreamConn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	data, err := c.framer.ReadFrame()
	if err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return data, nil
}

// WriteFrame writes one frame, bounded by the configured write timeout.
func (c *StreamConn) WriteFrame(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.framer.WriteFrame(data); err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection once.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *StreamConn) Closed() bool {
	return c.closed.Load()
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsEOF reports whether err means the peer ended the stream. On in-memory
// pipes a peer close surfaces as io.ErrClosedPipe from reads, writes and
// deadline calls.
func IsEOF(err error) bool {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
		return true
	case errors.Is(err, ErrFrameTruncated), errors.Is(err, ErrConnectionClosed):
		return true
	}
	return false
}

// DialConfig configures Dial.
type DialConfig struct {
	// ConnectTimeout bounds the TCP dial when ctx has no deadline (default: 10s).
	ConnectTimeout time.Duration

	ConnOptions
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, config DialConfig) (*StreamConn, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return NewStreamConn(conn, config.ConnOptions), nil
}

// Listener accepts framed connections.
type Listener struct {
	ln   net.Listener
	opts ConnOptions
}

// Listen opens a TCP listener on address.
func Listen(address string, opts ConnOptions) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return &Listener{ln: ln, opts: opts}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*StreamConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamConn(conn, l.opts), nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener. Blocked Accept calls return net.ErrClosed.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Pipe returns two connected in-memory StreamConns.
func Pipe(opts ConnOptions) (*StreamConn, *StreamConn) {
	a, b := net.Pipe()
	return NewStreamConn(a, opts), NewStreamConn(b, opts)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

var _ Conn = (*StreamConn)(nil)
