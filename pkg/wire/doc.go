// Package wire defines the VIP2P frame format.
//
// A frame is four fields joined by CR LF:
//
//	"VIP2P" CRLF "1.0" CRLF <COMMAND> CRLF <PAYLOAD>
//
// The payload is written verbatim and is the last field, so it may itself
// contain CR LF. Name and version are protocol constants: they are written on
// encode and only checked for presence on decode.
//
// # Commands
//
//   - INIT: client asks for an identity
//   - OK: acknowledgment; the reply to INIT carries the assigned identity
//   - DISCONN: teardown request; the payload is a free-text reason
//   - SEND: turn token from the server, never carries data
//
// # Identity Encoding
//
// Identities travel as the raw 16 bytes of the UUID. DecodeIdentity also
// accepts the 32-character hex and 36-character canonical text forms.
package wire
