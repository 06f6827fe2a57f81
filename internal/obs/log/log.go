// Package log provides the slog setup and context helpers used across the
// control plane, mirroring the teacher's context-aware logger.Info(ctx, ...)
// calls in internal/cli/coordinator.go.
package log

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const (
	keyRunID    ctxKey = "run_id"
	keyWorkerID ctxKey = "worker_id"
)

// New builds a *slog.Logger. format is "json" (daemons) or "text" (CLI).
func New(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// WithRunID returns a context carrying run_id so FromContext can enrich
// log records without threading the ID through every call signature.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// WithWorkerID returns a context carrying worker_id.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, keyWorkerID, workerID)
}

// attrs collects the run_id/worker_id stashed in ctx as slog attributes.
func attrs(ctx context.Context) []any {
	var out []any
	if v, ok := ctx.Value(keyRunID).(string); ok && v != "" {
		out = append(out, "run_id", v)
	}
	if v, ok := ctx.Value(keyWorkerID).(string); ok && v != "" {
		out = append(out, "worker_id", v)
	}
	return out
}

// Info logs at Info level, enriched with any run_id/worker_id in ctx.
func Info(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.InfoContext(ctx, msg, append(attrs(ctx), args...)...)
}

// Warn logs at Warn level, enriched with any run_id/worker_id in ctx.
func Warn(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.WarnContext(ctx, msg, append(attrs(ctx), args...)...)
}

// Error logs at Error level, enriched with any run_id/worker_id in ctx.
func Error(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.ErrorContext(ctx, msg, append(attrs(ctx), args...)...)
}
