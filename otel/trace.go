// Package otel — this file implements Tracer and Span over the
// OpenTelemetry SDK, plus the SpanOption builders used to configure a span
// at Start time.
package otel

import (
	"context"
	"fmt"

	"github.com/richland-works/agent-communication/message"
	sdk "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/trace"
)

type (
	// SpanStatus records whether a span's operation succeeded.
	SpanStatus int
	// SpanKind classifies a span's position in a request/message flow.
	SpanKind int
	// SpanOperation names the messaging operation a span represents, per
	// OpenTelemetry's messaging semantic conventions.
	SpanOperation int
	// TransportKind identifies which backend a span's message crossed —
	// the P/S adapter, the AMQP adapter, or neither (an internal span).
	TransportKind int
	// SpanOption configures a span at Start time. Named to match the
	// functional-options pattern the broker adapters use for their own
	// Option types.
	SpanOption func(*spanConfig)
)

const (
	SpanStatusOK SpanStatus = iota
	SpanStatusError

	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer

	SpanOperationSend SpanOperation = iota
	SpanOperationReceive
	SpanOperationProcess
	SpanOperationCreate
	SpanOperationSettle

	// TransportKindInternal marks a span with no backend crossing, such as
	// Broadcast's channel computation before it hands off to Publish.
	TransportKindInternal TransportKind = iota
	// TransportKindRedis tags a span whose message crossed broker/psub. The
	// adapters themselves start no spans.
	TransportKindRedis
	// TransportKindAMQP tags a span whose message crossed
	// broker/amqpadapter.
	TransportKindAMQP
)

var (
	traceEnabled bool

	transportNames = map[TransportKind]string{
		TransportKindRedis: "redis",
		TransportKindAMQP:  "rabbitmq",
	}

	operationNames = map[SpanOperation]string{
		SpanOperationSend:    "send",
		SpanOperationReceive: "receive",
		SpanOperationProcess: "process",
		SpanOperationCreate:  "create",
		SpanOperationSettle:  "settle",
	}

	sdkKinds = map[SpanKind]sdktrace.SpanKind{
		SpanKindInternal: sdktrace.SpanKindInternal,
		SpanKindServer:   sdktrace.SpanKindServer,
		SpanKindClient:   sdktrace.SpanKindClient,
		SpanKindProducer: sdktrace.SpanKindProducer,
		SpanKindConsumer: sdktrace.SpanKindConsumer,
	}
)

// EnableTrace turns every Tracer produced by this package from a no-op into
// a real one. Tests and callers that never enable it pay no SDK cost.
func EnableTrace() {
	traceEnabled = true
}

// tracer implements Tracer over an OpenTelemetry SDK tracer.
type tracer struct {
	inner sdktrace.Tracer
}

// span implements Span over an OpenTelemetry SDK span. The zero value (as
// returned while tracing is disabled) is a safe no-op.
type span struct {
	inner sdktrace.Span
	ctx   context.Context
}

// spanConfig accumulates the options passed to Start.
type spanConfig struct {
	transport          TransportKind
	operation          SpanOperation
	kind               SpanKind
	linkedTraceContext context.Context
	attributes         []Attribute
	message            message.Message
	channel            string
}

// NewTracer returns a Tracer that reports spans under serviceName.
func NewTracer(serviceName string) *tracer {
	return &tracer{inner: sdk.Tracer(serviceName)}
}

// WithTransportKind tags the span with which backend the message crossed.
func WithTransportKind(tk TransportKind) SpanOption {
	return func(c *spanConfig) { c.transport = tk }
}

// WithSpanOperation tags the span with its messaging operation (send,
// receive, create, ...). Meaningful for messaging spans; HTTP-style spans
// typically leave it unset.
func WithSpanOperation(operation SpanOperation) SpanOption {
	return func(c *spanConfig) { c.operation = operation }
}

// WithSpanKind sets the span's position in the flow (producer, consumer,
// internal, ...).
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithTraceContextToLink adds an explicit link from the new span back to
// whatever span ctx carries, rather than making it a child of it.
func WithTraceContextToLink(ctx context.Context) SpanOption {
	return func(c *spanConfig) { c.linkedTraceContext = ctx }
}

// WithAttributes attaches fixed attributes to the span.
func WithAttributes(attributes ...Attribute) SpanOption {
	return func(c *spanConfig) { c.attributes = attributes }
}

// WithMessage attaches msg and the channel it travelled on. messageAttributes
// derives the span's messaging.* attributes from the pair, and, when the
// caller passes an empty name to Start, its type name seeds the span name.
func WithMessage(msg message.Message, ch string) SpanOption {
	return func(c *spanConfig) {
		c.message = msg
		c.channel = ch
	}
}

// Start opens a span named name (or, when name is empty and a message was
// supplied via WithMessage, a name derived from the span kind and the
// message's type).
func (t *tracer) Start(ctx context.Context, name string, options ...SpanOption) (context.Context, Span) {
	if !traceEnabled {
		return ctx, &span{}
	}

	cfg := &spanConfig{
		transport: TransportKindInternal,
		kind:      SpanKindInternal,
	}
	for _, opt := range options {
		opt(cfg)
	}

	attrs := cfg.attributes
	spanName := name
	if cfg.message != nil {
		attrs = append(attrs, messageAttributes(cfg.message, cfg.channel)...)
		if spanName == "" {
			spanName = spanNameFor(cfg.kind, cfg.message.TypeName())
		}
	}
	attrs = append(attrs, NewAttribute("messaging.system", cfg.transport.String()))
	if cfg.operation != 0 {
		attrs = append(attrs, NewAttribute("messaging.operation.type", cfg.operation.String()))
	}

	startOpts := []sdktrace.SpanStartOption{
		sdktrace.WithSpanKind(cfg.kind.sdkKind()),
		toSpanStartOption(attrs),
	}
	if cfg.linkedTraceContext != nil {
		if linked := sdktrace.SpanContextFromContext(cfg.linkedTraceContext); linked.IsValid() {
			startOpts = append(startOpts, sdktrace.WithLinks(sdktrace.Link{SpanContext: linked}))
		}
	}

	ctx, sdkSpan := t.inner.Start(ctx, spanName, startOpts...)
	return ctx, &span{inner: sdkSpan, ctx: ctx}
}

func (s *span) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s *span) AddEvent(eventMessage string, attributes ...Attribute) {
	if s.inner == nil {
		return
	}
	s.inner.AddEvent(eventMessage, toSpanStartOption(attributes))
}

func (s *span) SetStatus(status SpanStatus, description string) {
	if s.inner == nil {
		return
	}
	s.inner.SetStatus(status.code(), description)
}

// Success is shorthand for SetStatus(SpanStatusOK, message).
func (s *span) Success(message string) {
	s.SetStatus(SpanStatusOK, message)
}

// Error sets the span's status to SpanStatusError with message and records
// err on the span.
func (s *span) Error(err error, message string) {
	if s.inner == nil {
		return
	}
	s.SetStatus(SpanStatusError, message)
	s.inner.RecordError(err)
}

func (s *SpanStatus) code() codes.Code {
	switch *s {
	case SpanStatusOK:
		return codes.Ok
	case SpanStatusError:
		return codes.Error
	default:
		return codes.Unset
	}
}

func (k *SpanKind) sdkKind() sdktrace.SpanKind {
	if kind, ok := sdkKinds[*k]; ok {
		return kind
	}
	return sdktrace.SpanKindUnspecified
}

// spanNameFor derives a span name from a message's type when the caller
// didn't supply one explicitly; producer spans describe what they send,
// everything else describes what it processes.
func spanNameFor(kind SpanKind, messageType string) string {
	if kind == SpanKindProducer {
		return fmt.Sprintf("send %s", messageType)
	}
	return fmt.Sprintf("process %s", messageType)
}

func (op *SpanOperation) String() string {
	if name, ok := operationNames[*op]; ok {
		return name
	}
	return "process"
}

func (tk *TransportKind) String() string {
	if name, ok := transportNames[*tk]; ok {
		return name
	}
	return "internal"
}
