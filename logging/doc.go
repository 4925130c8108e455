// Package logging provides a minimal logging interface and adapters for Convoke.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn,
// Error) that the orchestrator, registry and tool subsystem use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogAdapter(slog.Default())
//	r := runner.New(registry, runner.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
