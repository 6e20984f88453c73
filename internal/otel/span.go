// Package otel provides OpenTelemetry span helpers shared by the registry
// components.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/errs"
)

// Attribute keys used across the registry
const (
	AttrCrateName    = attribute.Key("crate.name")
	AttrCrateVersion = attribute.Key("crate.version")
	AttrIndexPath    = attribute.Key("index.path")
	AttrIndexCommit  = attribute.Key("index.commit")
	AttrSyncOutcome  = attribute.Key("index.sync_outcome")
	AttrResultCount  = attribute.Key("result.count")
	AttrErrorKind    = attribute.Key("error.kind")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
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

// RecordError records err on span, tags it with the error kind and marks the
// span as failed. The status description stays generic so that paths and
// connection details only show up in the recorded event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetAttributes(AttrErrorKind.String(errs.KindOf(err).String()))
		span.SetStatus(codes.Error, "operation failed")
	}
}
