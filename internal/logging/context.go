package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	userCtxKey     struct{}
	runCtxKey      struct{}
	pipelineCtxKey struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := UserIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("user.id", v))
	}
	if v := stringValue(ctx, pipelineCtxKey{}); v != "" {
		fields = append(fields, zap.String("pipeline", v))
	}
	if v := RunIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("run.id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithUserID tags ctx with the user a pipeline runs for.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserIDFromContext returns the user id, or "".
func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, userCtxKey{})
}

// WithRun tags ctx with a pipeline name and run id.
func WithRun(ctx context.Context, pipeline, runID string) context.Context {
	ctx = context.WithValue(ctx, pipelineCtxKey{}, pipeline)
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runCtxKey{})
}

// WithRequestID tags ctx with an inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
