package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codehive"

// StartTaskSpan starts a span for one engine execution on a worker.
func StartTaskSpan(ctx context.Context, taskID, workerName string, resume bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("worker.name", workerName),
			attribute.Bool("session.resume", resume),
		),
	)
}

// StartDispatchSpan starts a span for a controller call to one worker.
func StartDispatchSpan(ctx context.Context, op, workerName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch."+op,
		trace.WithAttributes(attribute.String("worker.name", workerName)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
