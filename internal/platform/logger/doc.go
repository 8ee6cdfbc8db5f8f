// Package logger provides structured logging functionality for the application.
//
// It uses the standard library log/slog package with a JSON handler and
// carries request- and task-scoped loggers through context.Context.
package logger
