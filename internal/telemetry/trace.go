package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for an authentication step.
//
//	ctx, span := telemetry.StartSpan(ctx, "authgate/authn", "authn.Exchange",
//	    attribute.String(telemetry.AttrRealm, realm),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common span attribute keys
const (
	AttrRealm         = "auth.realm"
	AttrPrincipalName = "principal.name"
	AttrPrincipalKind = "principal.kind"
	AttrSessionID     = "session.id"
	AttrLogoutUser    = "logout.user"
)
