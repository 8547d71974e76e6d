package cellular

// Logger defines the interface for framework logging.
// The runtime uses structured logging with key-value pairs to provide
// consistent, parseable output from state transitions, health evaluation,
// persistence and distribution workers.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, zerolog, zap, and others. The logging subpackage provides a
// zerolog-backed implementation.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal runtime events like unit creation and state transitions.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for best-effort side channel failures (persistence, publish) that
	// never propagate to business callers.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for conditions like degraded health or exhausted recovery ladders.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostics, typically disabled in production.
	Debug(msg string, args ...any)
}

// noopLogger discards everything. Used when no logger is configured so the
// runtime never has to nil-check.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noopLogger{} }
