package logging

import (
	"context"
	"log/slog"
	"os"
)

type callLoggerContextKey struct{}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(callLoggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		fallback := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		fallback = fallback.With(slog.String("logger", "fallback"))
		return fallback
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, callLoggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, args ...slog.Attr) context.Context {
	logger := FromContext(ctx)

	// Convert our []slog.Attr to []any
	anySlice := make([]any, len(args))
	for i, arg := range args {
		anySlice[i] = arg
	}

	withMeta := logger.With(anySlice...)

	return AddToContext(ctx, withMeta)
}

// AddCallMetaToContext attaches the attributes every API call should log:
// the verb, the resource path and the generated request id.
func AddCallMetaToContext(ctx context.Context, method, path, requestID string) context.Context {
	return AddMetaToContext(ctx,
		slog.String("method", method),
		slog.String("path", path),
		slog.String("requestID", requestID),
	)
}
