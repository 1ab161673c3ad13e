package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

type tickKey struct{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithTick starts a tick scope. Every log line written through the returned
// context carries the tick kind and a fresh tick id.
func WithTick(ctx context.Context, kind string) (context.Context, string) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, tickKey{}, id)
	ctx = With(ctx, Ctx(ctx).With(slog.String("tick", kind), slog.String("tickID", id)))
	return ctx, id
}

// TickID returns the id set by WithTick or an empty string.
func TickID(ctx context.Context) string {
	id, _ := ctx.Value(tickKey{}).(string)
	return id
}

func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
