package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vip2p-protocol/vip2p-go/pkg/client"
	"github.com/vip2p-protocol/vip2p-go/pkg/connection"
	"github.com/vip2p-protocol/vip2p-go/pkg/node"
	"github.com/vip2p-protocol/vip2p-go/pkg/server"
)

// Duration is a time.Duration read from a duration string.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "1.5s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// File is the top-level configuration.
type File struct {
	LogLevel string `yaml:"log_level"`
	Server   Server `yaml:"server"`
	Client   Client `yaml:"client"`
}

// Server configures vip2p-server.
type Server struct {
	Address               string   `yaml:"address"`
	PollInterval          Duration `yaml:"poll_interval"`
	HandshakeTimeout      Duration `yaml:"handshake_timeout"`
	ReaperInterval        Duration `yaml:"reaper_interval"`
	IdleTimeout           Duration `yaml:"idle_timeout"`
	HandlerTimeout        Duration `yaml:"handler_timeout"`
	WriteTimeout          Duration `yaml:"write_timeout"`
	MaxConnections        int      `yaml:"max_connections"`
	MaxConcurrentHandlers int64    `yaml:"max_concurrent_handlers"`
	MaxMessageSize        uint32   `yaml:"max_message_size"`
	ProtocolLog           string   `yaml:"protocol_log"`
	MDNS                  MDNS     `yaml:"mdns"`
}

// MDNS configures server advertisement.
type MDNS struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
}

// Client configures vip2p-client.
type Client struct {
	Address      string   `yaml:"address"`
	Discover     bool     `yaml:"discover"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	TurnTimeout  Duration `yaml:"turn_timeout"`
	ReplyTimeout Duration `yaml:"reply_timeout"`
	ProtocolLog  string   `yaml:"protocol_log"`
	Retry        Retry    `yaml:"retry"`
}

// Retry configures dial retry.
type Retry struct {
	Attempts int      `yaml:"attempts"`
	Initial  Duration `yaml:"initial"`
	Max      Duration `yaml:"max"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	sc := server.DefaultConfig()
	cc := client.DefaultConfig()
	return &File{
		LogLevel: "info",
		Server: Server{
			Address:               sc.Address,
			PollInterval:          Duration(sc.PollInterval),
			HandshakeTimeout:      Duration(sc.HandshakeTimeout),
			ReaperInterval:        Duration(sc.ReaperInterval),
			HandlerTimeout:        Duration(sc.Node.HandlerTimeout),
			MaxConnections:        sc.MaxConnections,
			MaxConcurrentHandlers: sc.MaxConcurrentHandlers,
		},
		Client: Client{
			DialTimeout:  Duration(cc.DialTimeout),
			TurnTimeout:  Duration(cc.Node.TurnTimeout),
			ReplyTimeout: Duration(cc.Node.ReplyTimeout),
			Retry: Retry{
				Attempts: 1,
				Initial:  Duration(connection.DefaultInitial),
				Max:      Duration(connection.DefaultMax),
			},
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := f.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return f, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return f, nil
}

// Validate checks values that the packages would reject later.
func (f *File) Validate() error {
	if _, err := ParseLevel(f.LogLevel); err != nil {
		return err
	}
	sc := f.ServerConfig()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if f.Client.Retry.Attempts < 0 {
		return errors.New("client: negative retry attempts")
	}
	return nil
}

// ServerConfig converts the server section.
func (f *File) ServerConfig() server.Config {
	s := f.Server
	config := server.DefaultConfig()
	config.Address = s.Address
	config.PollInterval = time.Duration(s.PollInterval)
	config.HandshakeTimeout = time.Duration(s.HandshakeTimeout)
	config.ReaperInterval = time.Duration(s.ReaperInterval)
	config.WriteTimeout = time.Duration(s.WriteTimeout)
	config.MaxConnections = s.MaxConnections
	config.MaxConcurrentHandlers = s.MaxConcurrentHandlers
	config.MaxMessageSize = s.MaxMessageSize
	config.InstanceName = s.MDNS.Instance
	config.Name = s.MDNS.Name
	config.Node.IdleTimeout = time.Duration(s.IdleTimeout)
	config.Node.HandlerTimeout = time.Duration(s.HandlerTimeout)
	return config
}

// ClientConfig converts the client section.
func (f *File) ClientConfig() client.Config {
	c := f.Client
	config := client.DefaultConfig()
	config.DialTimeout = time.Duration(c.DialTimeout)
	config.Node = node.Config{
		TurnTimeout:  time.Duration(c.TurnTimeout),
		ReplyTimeout: time.Duration(c.ReplyTimeout),
	}
	return config
}

// BackoffConfig converts the client retry section.
func (f *File) BackoffConfig() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial: time.Duration(f.Client.Retry.Initial),
		Max:     time.Duration(f.Client.Retry.Max),
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
