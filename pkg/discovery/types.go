package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of VIP2P servers.
	ServiceType = "_vip2p._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default VIP2P listening port.
	DefaultPort = 9595

	// InstancePrefix prefixes generated instance names.
	InstancePrefix = "VIP2P-"
)

// TXT record key constants.
const (
	TXTKeyVersion        = "ver"  // Protocol version
	TXTKeyName           = "name" // Server name (optional)
	TXTKeyMaxConnections = "max"  // Connection cap (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default browse duration.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS-SD instance label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the recommended upper bound for all TXT data.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrEmptyInstanceName   = errors.New("empty instance name")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// ServerInfo is what a server advertises.
type ServerInfo struct {
	// InstanceName is the DNS-SD instance name. Empty means VIP2P-<host>.
	InstanceName string

	// Port is the listening port (0 = DefaultPort).
	Port uint16

	// Version is the protocol version.
	Version string

	// Name is an optional human-readable name.
	Name string

	// MaxConnections is the connection cap (0 = unlimited).
	MaxConnections int
}

// ServerService is a server found by browsing.
type ServerService struct {
	InstanceName   string
	Host           string
	Port           uint16
	Addresses      []string
	Version        string
	Name           string
	MaxConnections int
}

// Address returns a dialable host:port, preferring the first resolved
// address over the host name.
func (s *ServerService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
