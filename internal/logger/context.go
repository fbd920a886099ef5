package logger

import (
	"context"

	"go.uber.org/zap"
)

// contextKey is the private type for storing the logger in a context.
type contextKey struct{}

// ToContext returns a copy of ctx carrying the provided logger.
func ToContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx or the global logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if ctx == nil {
		return global
	}

	if l, ok := ctx.Value(contextKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}

	return global
}

// WithName appends a name segment to the context logger, e.g. "apd-alarms.gateway".
func WithName(ctx context.Context, name string) context.Context {
	return ToContext(ctx, FromContext(ctx).Named(name))
}

// WithKV attaches a key-value pair to every entry logged through the returned context.
func WithKV(ctx context.Context, key string, value any) context.Context {
	return ToContext(ctx, FromContext(ctx).With(key, value))
}

// WithFields attaches several key-value pairs at once.
func WithFields(ctx context.Context, kvs ...any) context.Context {
	return ToContext(ctx, FromContext(ctx).With(kvs...))
}
