package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(ctx, "erasure-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	spanCtx, span := Tracer().Start(ctx, "record")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "record", ended[0].Name())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestSpanLoggerWritesEndedSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanLogger(zap.New(core))))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "process_record")
	span.SetAttributes(attribute.String("website", "example.com"))
	span.SetStatus(codes.Error, "send failed")
	span.End()

	entries := logs.FilterMessage("span ended").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "process_record", fields["span"])
	assert.Equal(t, "example.com", fields["attr.website"])
	assert.Equal(t, "Error", fields["status"])
	assert.Equal(t, "send failed", fields["status_description"])
}
