package modular

// Logger defines the interface for framework logging.
// The framework uses structured logging with key-value pairs so that
// lifecycle transitions, lock waits, and refresh steps are consistent and
// parseable regardless of the host application's logging backend.
//
// The Logger interface uses variadic arguments in key-value pairs:
//   logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others.
//
// Example implementation using Go's standard log/slog:
//   type SlogLogger struct {
//       logger *slog.Logger
//   }
//
//   func (l *SlogLogger) Info(msg string, args ...any) {
//       l.logger.Info(msg, args...)
//   }
//
//   func (l *SlogLogger) Error(msg string, args ...any) {
//       l.logger.Error(msg, args...)
//   }
//
//   func (l *SlogLogger) Warn(msg string, args ...any) {
//       l.logger.Warn(msg, args...)
//   }
//
//   func (l *SlogLogger) Debug(msg string, args ...any) {
//       l.logger.Debug(msg, args...)
//   }
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal lifecycle events: bundle installed, started, stopped.
	//
	// Example:
	//   logger.Info("bundle started", "bundleID", 7, "symbolicName", "com.example.foo")
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failures the caller will also receive as a returned error.
	//
	// Example:
	//   logger.Error("activator start failed", "bundleID", 7, "error", err)
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for tolerated InternalError conditions and mismatched resolver callbacks.
	//
	// Example:
	//   logger.Warn("resolver callback for stale module ignored", "bundleID", 7)
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for lock acquisition, refresh closure computation, and other
	// diagnostic detail typically disabled in production.
	//
	// Example:
	//   logger.Debug("acquired bundle lock", "bundleID", 7)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output. Used as the Framework default when
// no Logger is supplied via WithLogger, so lifecycle code never needs a
// nil check before logging.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Debug(msg string, args ...any) {}
