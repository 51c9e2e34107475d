package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kolkov/syncval/engine"

// startSpan starts a span named "Engine.<op>" tagged with the engine id.
func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("syncval.engine_id", e.id))
	return e.tracer.Start(ctx, "Engine."+op, trace.WithAttributes(attrs...))
}

// recordError marks span failed. A nil err is a no-op.
func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
