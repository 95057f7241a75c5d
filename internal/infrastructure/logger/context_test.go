package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Zero(t, BranchID(ctx))
	assert.Empty(t, JobID(ctx))
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithBranchID(ctx, 12)
	ctx = WithJobID(ctx, "job-9")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, int64(12), BranchID(ctx))
	assert.Equal(t, "job-9", JobID(ctx))
	assert.Len(t, ContextFields(ctx), 3)
}

func TestFor_AddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "reconcile")
	defer span.End()
	ctx = WithJobID(ctx, "job-1")

	For(ctx, base).Info("Starting reconciliation")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	assert.NotContains(t, fields, "request_id")
}

func TestFor_NilBase(t *testing.T) {
	assert.NotNil(t, For(context.Background(), nil))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core).With(zap.String("component", "aggregator")))
	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "aggregator", logs.All()[0].ContextMap()["component"])
}
