package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PolicyDecision is the span-facing view of an authorization decision.
type PolicyDecision struct {
	Allowed bool
	Route   string
	Reason  string
}

// RecordPolicyDecision annotates the provided span with the policy decision outcome.
func RecordPolicyDecision(span trace.Span, decision PolicyDecision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.String("policy.route", decision.Route),
	)
	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.reason", decision.Reason))
	}
	if !decision.Allowed {
		span.AddEvent("policy.denied")
	}
}

// RecordRequest attaches request identity attributes to the current span after
// applying RedactAttributes.
func RecordRequest(ctx context.Context, redactions map[string]string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(RedactAttributes(redactions, attrs)...)
}

// TraceID returns the hex trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span id of the span in ctx, or "" when there is none.
func SpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
