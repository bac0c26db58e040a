package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ragflow/activity"
)

// tracerName is the instrumentation scope name for ragflow tracing.
const tracerName = "github.com/xraph/ragflow"

// Tracing wraps each attempt in a span from the global TracerProvider.
// Without a configured provider the noop tracer makes it a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an injected tracer.
//
// Span attributes: ragflow.run.id, ragflow.activity.name,
// ragflow.activity.seq, ragflow.activity.attempt, ragflow.queue.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *activity.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "ragflow.activity.execute",
			trace.WithAttributes(
				attribute.String("ragflow.run.id", t.RunID.String()),
				attribute.String("ragflow.activity.name", t.Activity),
				attribute.Int("ragflow.activity.seq", t.Seq),
				attribute.Int("ragflow.activity.attempt", t.Attempt),
				attribute.String("ragflow.queue", t.Queue),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
