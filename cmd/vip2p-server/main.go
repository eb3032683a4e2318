// Command vip2p-server runs a VIP2P identity server.
//
// The server accepts TCP connections, hands each peer a freshly minted
// identity on INIT and removes it again on DISCONN.
//
// Usage:
//
//	vip2p-server [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-addr string          Listen address (default ":9595")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-mdns                 Advertise the server over mDNS
//	-instance string      mDNS instance name (default "VIP2P-<host>")
//	-name string          Human-readable server name
//	-protocol-log string  Capture protocol events to this file (.vlog)
//
// Examples:
//
//	# Start on the default port
//	vip2p-server
//
//	# Start with a config file and mDNS advertising
//	vip2p-server -config /etc/vip2p/server.yaml -mdns
//
//	# Capture every frame for later inspection with vip2p-log
//	vip2p-server -log-level debug -protocol-log /tmp/server.vlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/vip2p-protocol/vip2p-go/pkg/config"
	"github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	vlog "github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/server"
)

// Options holds the command-line settings. Non-empty values override the
// configuration file.
type Options struct {
	ConfigFile  string
	Address     string
	LogLevel    string
	MDNS        bool
	Instance    string
	Name        string
	ProtocolLog string
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.Address, "addr", "", "Listen address (default \":9595\")")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.MDNS, "mdns", false, "Advertise the server over mDNS")
	flag.StringVar(&opts.Instance, "instance", "", "mDNS instance name")
	flag.StringVar(&opts.Name, "name", "", "Human-readable server name")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Capture protocol events to this file (.vlog)")
}

func main() {
	flag.Parse()

	file, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogging(file.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(file, logger); err != nil {
		logger.Error("server failed", "error", err)
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
		file.Server.Address = o.Address
	}
	if o.LogLevel != "" {
		file.LogLevel = o.LogLevel
	}
	if o.MDNS {
		file.Server.MDNS.Enabled = true
	}
	if o.Instance != "" {
		file.Server.MDNS.Instance = o.Instance
	}
	if o.Name != "" {
		file.Server.MDNS.Name = o.Name
	}
	if o.ProtocolLog != "" {
		file.Server.ProtocolLog = o.ProtocolLog
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

func setupLogging(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})
	return slog.New(handler), nil
}

// openCapture opens the protocol capture file and, at debug level, echoes
// protocol events to logger as well.
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
	sc := file.ServerConfig()
	sc.Logger = logger
	sc.OnRegister = func(id uuid.UUID) {
		logger.Info("node registered", "identity", id)
	}
	sc.OnDisconnect = func(id uuid.UUID, reason string) {
		logger.Info("node disconnected", "identity", id, "reason", reason)
	}

	capture, err := openCapture(file.Server.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer func() {
		if dropped := capture.Dropped(); dropped > 0 {
			logger.Warn("protocol log dropped events", "count", dropped)
		}
		_ = capture.Close()
	}()
	sc.ProtocolLogger = capture.Logger()

	if file.Server.MDNS.Enabled {
		ac := discovery.DefaultAdvertiserConfig()
		ac.Interface = file.Server.MDNS.Interface
		advertiser, err := discovery.NewMDNSAdvertiser(ac)
		if err != nil {
			return fmt.Errorf("mdns: %w", err)
		}
		sc.Advertiser = advertiser
	}

	srv, err := server.New(sc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("VIP2P server starting", "address", sc.Address, "mdns", file.Server.MDNS.Enabled)

	err = srv.ListenAndServe(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("server stopped", "registered", len(srv.RegisteredIdentities()))
	return nil
}
