package wire

import (
	"fmt"

	"github.com/vip2p-protocol/vip2p-go/pkg/version"
)

// Protocol constants.
const (
	// ProtocolName is the first field of every frame.
	ProtocolName = "VIP2P"

	// ProtocolVersion is the second field of every frame.
	ProtocolVersion = version.Current

	// Separator delimits the frame fields.
	Separator = "\r\n"
)

// Command identifies the purpose of a frame.
type Command string

// Command vocabulary.
const (
	CmdInit    Command = "INIT"
	CmdOK      Command = "OK"
	CmdDisconn Command = "DISCONN"
	CmdSend    Command = "SEND"
)

// Valid reports whether c is part of the command vocabulary.
func (c Command) Valid() bool {
	switch c {
	case CmdInit, CmdOK, CmdDisconn, CmdSend:
		return true
	default:
		return false
	}
}

// IsControl reports whether c is a turn token rather than a content frame.
func (c Command) IsControl() bool {
	return c == CmdSend
}

// String returns the command name.
func (c Command) String() string {
	if c == "" {
		return "UNKNOWN"
	}
	return string(c)
}

// Message is one decoded frame.
type Message struct {
	Command Command
	Payload []byte
}

// String returns a short description for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s(%d bytes)", m.Command, len(m.Payload))
}
