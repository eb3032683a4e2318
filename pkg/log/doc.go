// Package log provides structured protocol logging for VIP2P.
//
// Protocol capture is separate from operational logging (slog): it records a
// machine-readable trace of every frame, decoded command, turn grant, state
// change and error so that a handshake can be replayed after the fact.
//
// # Basic Usage
//
//	// Development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/vip2p/server.vlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(slogAdapter, fileLogger)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded commands (MessageEvent) and SEND turn grants (ControlMsgEvent)
//   - Node: handshake and registry state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .vlog
// extension. The vip2p-log tool views, filters and summarizes them.
package log
