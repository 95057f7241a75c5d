package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	branchIDKey
	jobIDKey
)

// WithContext attaches l to ctx
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger attached to ctx with its correlation fields,
// or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	return withTrace(ctx, l)
}

// For returns base with every correlation field carried by ctx. Services that hold
// their own logger use it so job and request ids reach their entries.
func For(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		base = base.With(fields...)
	}
	return base
}

// WithRequestID records the HTTP request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithBranchID records the branch a request or job works on
func WithBranchID(ctx context.Context, branchID int64) context.Context {
	return context.WithValue(ctx, branchIDKey, branchID)
}

// WithJobID records the statistics job being executed
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// RequestID returns the request id in ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// BranchID returns the branch id in ctx, or 0
func BranchID(ctx context.Context) int64 {
	id, _ := ctx.Value(branchIDKey).(int64)
	return id
}

// JobID returns the job id in ctx, or ""
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// ContextFields returns the ids recorded in ctx and the active trace and span ids
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := JobID(ctx); id != "" {
		fields = append(fields, zap.String("job_id", id))
	}
	if id := BranchID(ctx); id != 0 {
		fields = append(fields, zap.Int64("branch_id", id))
	}
	return append(fields, traceFields(ctx)...)
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func withTrace(ctx context.Context, l *zap.Logger) *zap.Logger {
	if fields := traceFields(ctx); fields != nil {
		return l.With(fields...)
	}
	return l
}
