// Package logging provides a minimal logging interface and adapters for StreamChat.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, decoder, reconciler and server use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter and StreamChatLogger wrapping Go's structured logging
//   - ZerologAdapter for human friendly console output
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// The interface is kept minimal to avoid vendor lock-in while supporting
// structured logging where available.
package logging
