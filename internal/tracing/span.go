package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanApplyBatch    = "tankwatch.apply_batch"
	SpanFetchSnapshot = "tankwatch.fetch_snapshot"
	SpanSession       = "tankwatch.session"
)

// Attribute keys shared by the spans above.
const (
	ReportKey  = attribute.Key("tankwatch.report")
	AttemptKey = attribute.Key("tankwatch.attempt")
	EntriesKey = attribute.Key("tankwatch.entries")
	SamplesKey = attribute.Key("tankwatch.samples")
	CreatedKey = attribute.Key("tankwatch.created")
)

// StartSession starts the span covering one snapshot and its live stream.
// The returned context parents the spans of that session.
func StartSession(ctx context.Context, tracer trace.Tracer, report string, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanSession,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(ReportKey.String(report), AttemptKey.Int(attempt)),
	)
}

// StartApply starts the span around merging one update batch.
func StartApply(ctx context.Context, tracer trace.Tracer, report string, entries int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanApplyBatch,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(ReportKey.String(report), EntriesKey.Int(entries)),
	)
}

// StartFetch starts a client span for a snapshot GET.
func StartFetch(ctx context.Context, tracer trace.Tracer, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanFetchSnapshot,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", url),
		),
	)
}

// EndSpan sets attrs, records err and ends the span.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
