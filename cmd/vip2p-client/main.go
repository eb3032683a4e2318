// Command vip2p-client connects to a VIP2P server and obtains an identity.
//
// By default the client connects once, prints its identity, waits for
// SIGINT/SIGTERM and then disconnects. With -interactive it opens a shell
// that can hold several nodes at once.
//
// Usage:
//
//	vip2p-client [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-addr string          Server address host:port
//	-discover             Find the server via mDNS instead of -addr
//	-instance string      mDNS instance to look for (default: first found)
//	-retry int            Connection attempts, 0 = until interrupted (default 1)
//	-reason string        DISCONN reason (default "client shutdown")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Capture protocol events to this file (.vlog)
//	-interactive          Start the interactive shell
//
// Examples:
//
//	# Connect to a local server
//	vip2p-client -addr localhost:9595
//
//	# Find a server on the LAN and keep retrying until it answers
//	vip2p-client -discover -retry 0
//
//	# Interactive shell
//	vip2p-client -addr localhost:9595 -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vip2p-protocol/vip2p-go/cmd/vip2p-client/interactive"
	"github.com/vip2p-protocol/vip2p-go/pkg/client"
	"github.com/vip2p-protocol/vip2p-go/pkg/config"
	"github.com/vip2p-protocol/vip2p-go/pkg/connection"
	"github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	vlog "github.com/vip2p-protocol/vip2p-go/pkg/log"
)

// Options holds the command-line settings. Set values override the
// configuration file.
type Options struct {
	ConfigFile  string
	Address     string
	Discover    bool
	Instance    string
	Retry       int
	Reason      string
	LogLevel    string
	ProtocolLog string
	Interactive bool
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.Address, "addr", "", "Server address host:port")
	flag.BoolVar(&opts.Discover, "discover", false, "Find the server via mDNS instead of -addr")
	flag.StringVar(&opts.Instance, "instance", "", "mDNS instance to look for")
	flag.IntVar(&opts.Retry, "retry", -1, "Connection attempts, 0 = until interrupted")
	flag.StringVar(&opts.Reason, "reason", "client shutdown", "DISCONN reason")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Capture protocol events to this file (.vlog)")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	flag.Parse()

	file, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	lvl, err := config.ParseLevel(file.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if err := run(file, logger); err != nil {
		logger.Error("client failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides on top of it.
func loadConfig(o Options) (*config.File, error) {
	file := config.Default()
	if o.ConfigFile != "" {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	if o.Address != "" {
		file.Client.Address = o.Address
	}
	if o.Discover {
		file.Client.Discover = true
	}
	if o.Retry >= 0 {
		file.Client.Retry.Attempts = o.Retry
	}
	if o.LogLevel != "" {
		file.LogLevel = o.LogLevel
	}
	if o.ProtocolLog != "" {
		file.Client.ProtocolLog = o.ProtocolLog
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	if !o.Interactive && !file.Client.Discover && file.Client.Address == "" {
		return nil, fmt.Errorf("either -addr or -discover is required")
	}
	return file, nil
}

func openCapture(path string, logger *slog.Logger) (*vlog.Capture, error) {
	var echo *slog.Logger
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		echo = logger.With("component", "protocol")
	}
	capture, err := vlog.OpenCapture(path, echo)
	if err != nil {
		return nil, fmt.Errorf("protocol log: %w", err)
	}
	if p := capture.Path(); p != "" {
		logger.Info("protocol logging enabled", "path", p)
	}
	return capture, nil
}

func run(file *config.File, logger *slog.Logger) error {
	cc := file.ClientConfig()
	cc.Logger = logger

	capture, err := openCapture(file.Client.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer capture.Close()
	cc.ProtocolLogger = capture.Logger()

	c := client.New(cc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return fmt.Errorf("mdns: %w", err)
	}
	defer browser.Stop()

	addr := file.Client.Address
	if file.Client.Discover {
		svc, err := browser.FindFirst(ctx, opts.Instance)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		addr = svc.Address()
		logger.Info("server discovered", "instance", svc.InstanceName, "address", addr)
	}

	if opts.Interactive {
		return runInteractive(ctx, c, browser, addr)
	}

	backoff := connection.NewBackoff(file.BackoffConfig())
	h, err := c.ConnectWithRetry(ctx, addr, backoff, file.Client.Retry.Attempts)
	if err != nil {
		return err
	}

	fmt.Printf("Identity: %s\n", h.Identity)
	fmt.Printf("Server:   %s\n", h.Address())

	select {
	case <-ctx.Done():
	case <-h.Done():
		return fmt.Errorf("connection lost: %w", h.Err())
	}

	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disconnect(dctx, h, opts.Reason); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	logger.Info("disconnected", "identity", h.Identity)
	return nil
}

func runInteractive(ctx context.Context, c *client.Client, browser discovery.Browser, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shell, err := interactive.New(c, browser, addr)
	if err != nil {
		return err
	}
	shell.Run(ctx, cancel)
	return nil
}
