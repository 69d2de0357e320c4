// Package log provides structured protocol capture for the roborock bridge.
//
// This package defines the Logger interface and Event types for recording
// what happens between the bridge and a device: miIO frames on the
// transport, session state transitions, and emissions decided by the change
// bridge. It is separate from operational logging (slog); protocol capture
// gives a complete machine-readable trace for debugging.
//
// # Basic Usage
//
//	// Console during development
//	console := log.NewSlogAdapter(slog.Default())
//
//	// Binary file for later analysis with roborock-log, rotated at 8 MiB
//	file, _ := log.NewFileLogger("/var/log/roborock/vacuum.rlog", log.WithMaxSize(8<<20))
//
//	// Both; Tee drops nil loggers and returns a lone logger unwrapped
//	logger = log.Tee(console, file)
//
// # Event Types
//
//   - Transport: miIO frames (FrameEvent)
//   - Session: connection state changes (StateChangeEvent)
//   - Bridge: forwarded and suppressed values (EmissionEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files are a sequence of CBOR-encoded events with integer keys and use
// the .rlog extension.
package log
