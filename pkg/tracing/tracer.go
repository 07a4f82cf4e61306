// Package tracing provides the shared OTel span helper for domain packages.
//
// Without a registered TracerProvider the global no-op provider is used, so
// spans cost nothing in tests and local runs.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "entitygraph"

// Attribute keys shared by graph spans.
const (
	AttrTenantID = attribute.Key("entitygraph.tenant.id")
	AttrNodeID   = attribute.Key("entitygraph.node.id")
	AttrOp       = attribute.Key("entitygraph.op")
)

// Start creates a child span of the span in ctx (or a root span). Callers
// must end it, usually with defer span.End().
//
//	ctx, span := tracing.Start(ctx, "graph.traverse",
//	    tracing.AttrTenantID.String(tenantID.String()),
//	)
//	defer span.End()
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it as errored. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
