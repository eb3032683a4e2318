package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeLayout(t *testing.T) {
	got := Encode(CmdDisconn, []byte("bye"))
	want := []byte("VIP2P\r\n1.0\r\nDISCONN\r\nbye")
	if !bytes.Equal(got, want) {
		t.Errorf("Encode: got %q, want %q", got, want)
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	got := Encode(CmdSend, nil)
	want := []byte("VIP2P\r\n1.0\r\nSEND\r\n")
	if !bytes.Equal(got, want) {
		t.Errorf("Encode: got %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		cmd     Command
		payload []byte
	}{
		{name: "init", cmd: CmdInit},
		{name: "send", cmd: CmdSend},
		{name: "ok with identity", cmd: CmdOK, payload: EncodeIdentity(id)},
		{name: "disconn with reason", cmd: CmdDisconn, payload: []byte("bye")},
		{name: "payload containing separator", cmd: CmdDisconn, payload: []byte("line one\r\nline two")},
		{name: "binary payload", cmd: CmdOK, payload: []byte{0x00, '\r', '\n', 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(Encode(tt.cmd, tt.payload))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if msg.Command != tt.cmd {
				t.Errorf("Command: got %s, want %s", msg.Command, tt.cmd)
			}
			if !bytes.Equal(msg.Payload, tt.payload) {
				t.Errorf("Payload: got %q, want %q", msg.Payload, tt.payload)
			}
		})
	}
}

func TestDecodeMissingPayloadSeparator(t *testing.T) {
	_, err := Decode([]byte("VIP2P\r\n1.0\r\nINIT"))
	if !errors.Is(err, ErrProtocolFrame) {
		t.Fatalf("expected ErrProtocolFrame, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "no separators", data: "VIP2P"},
		{name: "missing name", data: "\r\n1.0\r\nINIT\r\n"},
		{name: "missing version", data: "VIP2P\r\n\r\nINIT\r\n"},
		{name: "unknown command", data: "VIP2P\r\n1.0\r\nPING\r\n"},
		{name: "lowercase command", data: "VIP2P\r\n1.0\r\ninit\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); !errors.Is(err, ErrProtocolFrame) {
				t.Errorf("expected ErrProtocolFrame, got %v", err)
			}
		})
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	frame := Encode(CmdDisconn, []byte("reason"))
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	frame[len(frame)-1] = 'X'
	if string(msg.Payload) != "reason" {
		t.Errorf("payload changed with input buffer: %q", msg.Payload)
	}
}

func TestCommandValid(t *testing.T) {
	for _, c := range []Command{CmdInit, CmdOK, CmdDisconn, CmdSend} {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Command("HELLO").Valid() {
		t.Error("HELLO should not be valid")
	}
	if !CmdSend.IsControl() || CmdInit.IsControl() {
		t.Error("only SEND is a control command")
	}
}

func TestIdentityEncoding(t *testing.T) {
	id := uuid.New()

	raw := EncodeIdentity(id)
	if len(raw) != IdentitySize {
		t.Fatalf("raw identity length: got %d, want %d", len(raw), IdentitySize)
	}

	for name, payload := range map[string][]byte{
		"raw":       raw,
		"hex":       []byte(strings.ReplaceAll(id.String(), "-", "")),
		"canonical": []byte(id.String()),
	} {
		got, err := DecodeIdentity(payload)
		if err != nil {
			t.Errorf("%s: DecodeIdentity failed: %v", name, err)
			continue
		}
		if got != id {
			t.Errorf("%s: got %s, want %s", name, got, id)
		}
	}
}

func TestDecodeIdentityRejects(t *testing.T) {
	for name, payload := range map[string][]byte{
		"empty":     nil,
		"short":     []byte{1, 2, 3},
		"nil uuid":  make([]byte, IdentitySize),
		"bad hex":   []byte(strings.Repeat("z", 32)),
		"bad canon": []byte(strings.Repeat("-", 36)),
	} {
		if _, err := DecodeIdentity(payload); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("%s: expected ErrInvalidIdentity, got %v", name, err)
		}
	}
}
