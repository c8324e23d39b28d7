// Package otel wraps the three call sites that need a span —
// router.Router's Publish, Broadcast, and DeliverMessage — so a message
// crossing the wire in either direction carries a trace. Every span is a
// no-op until EnableTrace is called, so importing this package costs
// nothing when tracing is off.
package otel

import (
	"context"

	"github.com/richland-works/agent-communication/channel"
	"github.com/richland-works/agent-communication/message"
	sdk "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	traceTypes "go.opentelemetry.io/otel/trace"
)

// RouterOtelTraceEnableFlagName names the feature flag that gates tracing
// in deployments that read it; this package itself only reacts to
// EnableTrace.
const RouterOtelTraceEnableFlagName = "agent-communication.otel.Enable"

// Tracer starts spans for router operations.
type Tracer interface {
	// Start opens a span. name may be empty, in which case a span carrying
	// a message (via WithMessage) derives one from the message's type and
	// the span kind; callers that pass neither must supply name themselves.
	Start(ctx context.Context, name string, options ...SpanOption) (context.Context, Span)
}

// Span is the subset of an OpenTelemetry span this package exposes to
// callers: enough to close it, annotate it, and record its outcome.
type Span interface {
	End()
	AddEvent(eventMessage string, attributes ...Attribute)
	SetStatus(status SpanStatus, description string)
	// Success and Error are shorthand for the common case of SetStatus
	// plus, for Error, recording the error value itself.
	Success(message string)
	Error(err error, message string)
}

// Attribute is one span or event attribute.
type Attribute struct {
	key   string
	value string
}

// NewAttribute builds an Attribute from a key/value pair.
func NewAttribute(key, value string) Attribute {
	return Attribute{key: key, value: value}
}

// toSpanStartOption converts attributes into the form the underlying SDK's
// span-start and event APIs accept.
func toSpanStartOption(attributes []Attribute) traceTypes.SpanStartEventOption {
	var attrs []attribute.KeyValue
	for _, a := range attributes {
		attrs = append(attrs, attribute.String(a.key, a.value))
	}
	return traceTypes.WithAttributes(attrs...)
}

// messageAttributes derives span attributes from a delivered or published
// message and the channel it travelled on. The channel grammar already
// carries the message type, direction, and session, so those are split out
// individually in addition to being recorded whole as the destination name.
func messageAttributes(msg message.Message, ch string) []Attribute {
	attrs := []Attribute{
		NewAttribute("messaging.message.type", msg.TypeName()),
		NewAttribute("messaging.destination.name", ch),
	}
	messageType, direction, session, err := channel.Parse(ch)
	if err != nil {
		return attrs
	}
	attrs = append(attrs,
		NewAttribute("messaging.operation.type", direction),
		NewAttribute("messaging.session.id", session),
	)
	if messageType != msg.TypeName() {
		attrs = append(attrs, NewAttribute("messaging.channel.type", messageType))
	}
	return attrs
}

// InjectTraceHeaders extracts the trace context carried by ctx and returns
// it as a flat map of header name to value, suitable for attaching to an
// outgoing message's wire metadata so a downstream agent can link back to
// this span.
func InjectTraceHeaders(ctx context.Context) map[string]string {
	carrier := propagation.HeaderCarrier{}
	sdk.GetTextMapPropagator().Inject(ctx, &carrier)

	headers := make(map[string]string, len(carrier.Keys()))
	for _, key := range carrier.Keys() {
		headers[key] = carrier.Get(key)
	}
	return headers
}

// ContextFromTraceParent builds a context carrying the trace described by a
// W3C traceparent header, so a delivery handler can link its span to the
// publisher's.
func ContextFromTraceParent(ctx context.Context, traceParent string) context.Context {
	carrier := propagation.HeaderCarrier{}
	carrier.Set("Traceparent", traceParent)
	return sdk.GetTextMapPropagator().Extract(ctx, &carrier)
}
