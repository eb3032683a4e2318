package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrProtocolFrame indicates a frame that does not have the
// NAME SEP VERSION SEP COMMAND SEP PAYLOAD shape.
var ErrProtocolFrame = errors.New("protocol frame error")

// fieldCount is the number of fields in a frame; the last one is the payload.
const fieldCount = 4

var sep = []byte(Separator)

// Encode builds a frame for cmd carrying payload.
func Encode(cmd Command, payload []byte) []byte {
	size := len(ProtocolName) + len(ProtocolVersion) + len(cmd) + len(payload) + 3*len(sep)
	buf := make([]byte, 0, size)
	buf = append(buf, ProtocolName...)
	buf = append(buf, sep...)
	buf = append(buf, ProtocolVersion...)
	buf = append(buf, sep...)
	buf = append(buf, cmd...)
	buf = append(buf, sep...)
	buf = append(buf, payload...)
	return buf
}

// EncodeMessage builds a frame for msg.
func EncodeMessage(msg *Message) []byte {
	return Encode(msg.Command, msg.Payload)
}

// Decode parses a frame. The data is split on the separator at most three
// times, so separators inside the payload are preserved.
func Decode(data []byte) (*Message, error) {
	fields := bytes.SplitN(data, sep, fieldCount)
	if len(fields) < fieldCount {
		return nil, fmt.Errorf("%w: found %d separators, need %d", ErrProtocolFrame, len(fields)-1, fieldCount-1)
	}
	if len(fields[0]) == 0 {
		return nil, fmt.Errorf("%w: missing protocol name", ErrProtocolFrame)
	}
	if len(fields[1]) == 0 {
		return nil, fmt.Errorf("%w: missing protocol version", ErrProtocolFrame)
	}

	cmd := Command(fields[2])
	if !cmd.Valid() {
		return nil, fmt.Errorf("%w: unknown command %q", ErrProtocolFrame, fields[2])
	}

	var payload []byte
	if len(fields[3]) > 0 {
		payload = bytes.Clone(fields[3])
	}

	return &Message{Command: cmd, Payload: payload}, nil
}
