// Package logging provides a minimal logging interface and adapters for ResearchMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, the tool batch executor and the fact extractor use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - ResearchLogger built on Go's structured logging (log/slog)
//   - ZapAdapter wrapping a go.uber.org/zap logger
//   - NoOpLogger for silent operation (testing, library use)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(m, registry, func(o *engine.Options) { o.Logger = logger })
//
// Messages are dotted event names ("research.step.completed") followed by
// alternating key/value pairs.
package logging
