package logger

import (
	"context"
	"log/slog"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	LoggerKey ContextKey = "logger"
)

// FromContext retrieves the logger from the context.
// If no logger is found, it returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithEvalID adds an evaluation id to the logger in the context
func WithEvalID(ctx context.Context, evalID string) context.Context {
	logger := FromContext(ctx)
	loggerWithEvalID := logger.With("eval_id", evalID)
	return WithLogger(ctx, loggerWithEvalID)
}
