package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// SpanLogger is a span processor that writes every ended span to a zap
// logger at debug level. It lets a run be traced without a collector.
type SpanLogger struct {
	logger *zap.Logger
}

var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

// NewSpanLogger returns a processor writing to logger.
func NewSpanLogger(logger *zap.Logger) *SpanLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanLogger{logger: logger}
}

// OnStart is a no-op.
func (p *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs the span name, ids, duration, status and attributes.
func (p *SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []zap.Field{
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.String("span_id", s.SpanContext().SpanID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
		zap.String("status", s.Status().Code.String()),
	}
	if desc := s.Status().Description; desc != "" {
		fields = append(fields, zap.String("status_description", desc))
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, zap.String("attr."+string(kv.Key), kv.Value.Emit()))
	}
	p.logger.Debug("span ended", fields...)
}

// Shutdown is a no-op.
func (p *SpanLogger) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op.
func (p *SpanLogger) ForceFlush(context.Context) error { return nil }
