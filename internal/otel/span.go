// Package otel holds small tracing helpers shared by the sync components.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	AttrTableName      = attribute.Key("table.name")
	AttrSyncMode       = attribute.Key("sync.mode")
	AttrDeltaOperation = attribute.Key("delta.operation")
	AttrPageNo         = attribute.Key("extract.page_no")
	AttrResultCount    = attribute.Key("result.count")
)

// Sync modes reported in AttrSyncMode
const (
	ModeFull  = "full"
	ModeDelta = "delta"
)

// StartSpan starts a span on tracer, or returns the span already in ctx when tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status text stays generic so SQL and
// source payloads only appear in the recorded error event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
