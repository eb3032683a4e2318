// Package transport provides the VIP2P connection layer.
//
// The transport handles:
//   - TCP dial and listen
//   - Length-prefixed framing so that one read yields exactly one frame
//   - Read deadlines for timeout-bounded waits
//   - Optional capture of raw frames through a protocol logger
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  VIP2P frame (NAME/VER/CMD)    │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Stream transports carry no message boundaries, so every frame is
// preceded by its length as a 4-byte big-endian integer.
package transport
