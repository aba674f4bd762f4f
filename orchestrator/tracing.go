package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("orkestra")

// NewTracerProvider builds an always-sampling SDK tracer provider, grounded
// on the teacher's distributed tracing sample
// (samples/distributedtracing.go's ConfigureZipkinTracing). It carries no
// exporter of its own: a caller that wants spans to go anywhere registers a
// span processor via opts (e.g. sdktrace.WithBatcher(exporter)) before
// installing the result with otel.SetTracerProvider. Without one, spans are
// still created and ended, just never exported anywhere.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithSampler(sdktrace.AlwaysSample())}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}

// startTaskSpan opens a span covering one task's request/reply round trip,
// grounded on internal/helpers.StartNewActivitySpan's attribute set.
func startTaskSpan(ctx context.Context, orchestratorID string, t *Task) (context.Context, trace.Span) {
	return tracer.Start(ctx, "task||"+t.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("orkestra.orchestrator_id", orchestratorID),
			attribute.Int64("orkestra.task.index", int64(t.Index)),
			attribute.String("orkestra.task.name", t.Name),
			attribute.String("orkestra.task.destination", string(t.Destination)),
		),
	)
}

// startOrchestratorSpan opens a span covering one orchestrator's run from
// StartOrchestrator to termination.
func startOrchestratorSpan(ctx context.Context, orchestratorID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator||"+orchestratorID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("orkestra.orchestrator_id", orchestratorID)),
	)
}
