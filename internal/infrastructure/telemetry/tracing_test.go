package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs an in-memory span recorder as the global provider.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	return sr
}

func attrMap(kvs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestStartSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "reconcile.branch",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, int64(4)),
		telemetry.WithSpanKind(trace.SpanKindConsumer),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "reconcile.branch", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, "4", attrMap(spans[0].Attributes())["branch_id"])
}

func TestStartServiceSpan(t *testing.T) {
	sr := setupTestTracer(t)

	ctx, parent := telemetry.StartServiceSpan(context.Background(), "aggregator", "apply",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, uuid.MustParse("0b6c1bd4-3b0e-4c55-9d5e-1f1e8f5b3a10")),
	)
	_, child := telemetry.StartSpan(ctx, "aggregate_repository.apply_fact")
	child.End()
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "aggregator.apply", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "0b6c1bd4-3b0e-4c55-9d5e-1f1e8f5b3a10", attrMap(spans[1].Attributes())["order_id"])
}

func TestSetAttribute(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "archive.batch")
	telemetry.SetAttribute(span, telemetry.SpanAttrTarget, "orders")
	telemetry.SetAttribute(span, telemetry.SpanAttrRows, 1000)
	telemetry.SetAttribute(span, "net_sales", decimal.RequireFromString("7500.50"))
	telemetry.SetAttribute(span, "dry_run", false)
	span.End()

	assert.Equal(t, map[string]string{
		"archive.target": "orders",
		"rows":           "1000",
		"net_sales":      "7500.5",
		"dry_run":        "false",
	}, attrMap(sr.Ended()[0].Attributes()))
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "aggregator.apply")
	telemetry.RecordError(span, nil)
	telemetry.RecordError(span, errors.New("upsert failed"))
	span.End()

	got := sr.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "upsert failed", got.Status().Description)
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "exception", got.Events()[0].Name)
}

func TestHelpers_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.RecordError(nil, errors.New("x"))
		telemetry.SetAttribute(nil, "k", "v")
	})
}
