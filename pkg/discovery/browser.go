package discovery

import (
	"context"
	"time"
)

// Browser finds VIP2P servers on the local network.
type Browser interface {
	// Browse searches for servers. The channel is closed when ctx is
	// cancelled or browsing stops.
	Browse(ctx context.Context) (<-chan *ServerService, error)

	// FindFirst returns the first server found, or the server with the
	// given instance name when instance is not empty.
	FindFirst(ctx context.Context, instance string) (*ServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindFirst when ctx has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}
