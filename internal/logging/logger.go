// Package logging defines a minimal structured-logging interface used across
// the project. Implementations wrap slog (JSON, production) and zerolog
// (console, development).
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "session transitioned", "session_id", id, "to", status)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// New returns the logger selected by format: "console" gives a zerolog
// console writer, anything else JSON via slog.
func New(format string) Logger {
	if format == "console" {
		return NewConsoleLogger()
	}
	return NewJSONLogger()
}
