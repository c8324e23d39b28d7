// Package router implements the abstract router core: the subscription
// table, the type registry, and the public contract (start, stop, publish,
// broadcast, subscribe, unsubscribe, auto_subscribe) that both backend
// adapters sit behind. It knows nothing about Redis or RabbitMQ wire
// formats; it only speaks channels and byte payloads through the Backend
// contract.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/richland-works/agent-communication/agent"
	"github.com/richland-works/agent-communication/channel"
	"github.com/richland-works/agent-communication/codec"
	"github.com/richland-works/agent-communication/message"
	"github.com/richland-works/agent-communication/otel"
)

// State is the router's lifecycle position.
type State int

const (
	Cold State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "cold"
	}
}

// ErrRouterNotRunning is returned by publish/broadcast/subscribe/unsubscribe
// when the router is not in the Running state.
var ErrRouterNotRunning = errors.New("[router] not running")

// ErrRouterNotConnected is returned by Start when the backend connection
// attempt fails.
var ErrRouterNotConnected = errors.New("[router] backend not connected")

// InvalidBroadcastTargetError reports that Broadcast was called with a
// wildcard direction or session, which would produce a nonsensical
// concrete channel on the wire.
type InvalidBroadcastTargetError struct {
	Direction string
	Session   string
}

func (e *InvalidBroadcastTargetError) Error() string {
	return fmt.Sprintf("broadcast direction %q and session %q must not contain wildcards", e.Direction, e.Session)
}

// Delivery is the upcall surface a Backend uses to hand the core a raw
// message pulled off the wire. *Router implements it.
type Delivery interface {
	DeliverMessage(ctx context.Context, ch string, payload []byte)
}

// Backend is the contract the abstract core delegates wire I/O to. Both the
// P/S adapter (broker/psub) and the AMQP adapter (broker/amqpadapter)
// implement it.
type Backend interface {
	// Start connects the backend and begins its listener loop, routing
	// admitted deliveries to delivery.DeliverMessage.
	Start(ctx context.Context, delivery Delivery) error
	// Stop terminates the listener and disconnects, releasing any
	// backend-side resources created for active subscriptions (e.g. AMQP
	// queues). Errors are logged by the caller and never propagated from
	// Router.Stop.
	Stop(ctx context.Context) error
	PublishRaw(ctx context.Context, ch string, payload []byte) error
	SubscribeRaw(ctx context.Context, pattern string) error
	UnsubscribeRaw(ctx context.Context, pattern string) error
}

// HealthChecker is an optional Backend capability consulted by
// (*Router).Healthy.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Subscriber is the contract a router.Subscribe/AutoSubscribe participant
// must satisfy. *agent.Agent implements it; tests may supply lighter fakes.
type Subscriber interface {
	Name() string
	Incoming() []message.Message
	ValidateIncoming(msg message.Message) bool
	Handle(ctx context.Context, msg message.Message, dctx agent.DeliveryContext) error
}

// Router owns the subscription table and the type registry, and delegates
// all wire I/O to a Backend. It holds no dedup cache: each Backend consults
// its own DedupCache before calling DeliverMessage.
type Router struct {
	mu      sync.RWMutex
	state   State
	backend Backend
	logger  *slog.Logger
	tracer  otel.Tracer

	forward  map[string]map[Subscriber]struct{} // pattern -> subscribers
	inverse  map[Subscriber]map[string]struct{} // subscriber -> patterns
	registry *codec.MapRegistry
}

// New constructs a cold Router bound to backend. logger defaults to
// slog.Default() when nil. Spans are emitted around Publish, Broadcast and
// DeliverMessage; they are no-ops unless otel.EnableTrace has been called.
func New(backend Backend, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		state:    Cold,
		backend:  backend,
		logger:   logger,
		tracer:   otel.NewTracer("agent-communication.router"),
		forward:  make(map[string]map[Subscriber]struct{}),
		inverse:  make(map[Subscriber]map[string]struct{}),
		registry: codec.NewMapRegistry(),
	}
}

// State returns the router's current lifecycle state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start connects the backend and marks the router running. A second call
// while already running is a no-op.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.backend.Start(ctx, r); err != nil {
		return fmt.Errorf("%w: %v", ErrRouterNotConnected, err)
	}

	r.mu.Lock()
	r.state = Running
	r.mu.Unlock()
	r.logger.Info("[router] started")
	return nil
}

// Stop marks the router not-running, clears all subscription state, and
// disconnects the backend. Idempotent; backend teardown errors are logged
// and swallowed.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Running {
		r.state = Stopped
		r.mu.Unlock()
		return nil
	}
	r.state = Stopped
	r.forward = make(map[string]map[Subscriber]struct{})
	r.inverse = make(map[Subscriber]map[string]struct{})
	r.mu.Unlock()

	if err := r.backend.Stop(ctx); err != nil {
		r.logger.Error("[router] backend stop failed", "error", err)
	}
	r.logger.Info("[router] stopped")
	return nil
}

// Healthy reports the backend's health when it implements HealthChecker,
// and the router's running state otherwise.
func (r *Router) Healthy(ctx context.Context) bool {
	if hc, ok := r.backend.(HealthChecker); ok {
		return hc.Healthy(ctx)
	}
	return r.State() == Running
}

// Publish encodes msg and hands it to the backend verbatim. It does not
// consult the subscription table: publication is blind to local
// subscribers.
func (r *Router) Publish(ctx context.Context, msg message.Message, ch string) error {
	ctx, span := r.tracer.Start(ctx, "",
		otel.WithSpanKind(otel.SpanKindProducer),
		otel.WithSpanOperation(otel.SpanOperationSend),
		otel.WithMessage(msg, ch),
	)
	defer span.End()

	if r.State() != Running {
		span.Error(ErrRouterNotRunning, "router not running")
		return ErrRouterNotRunning
	}
	payload, err := codec.Encode(msg)
	if err != nil {
		wrapped := fmt.Errorf("[router] publish %s: %w", ch, err)
		span.Error(wrapped, "encode failed")
		return wrapped
	}
	if err := r.backend.PublishRaw(ctx, ch, payload); err != nil {
		wrapped := fmt.Errorf("[router] publish %s: %w", ch, err)
		span.Error(wrapped, "publish_raw failed")
		return wrapped
	}
	r.logger.Info("[router] published", "channel", ch, "messageType", msg.TypeName())
	span.Success("published")
	return nil
}

// Broadcast computes the concrete channel from msg's type and the supplied
// direction/session, then publishes. direction and session must not
// contain wildcards.
func (r *Router) Broadcast(ctx context.Context, msg message.Message, direction, session string) error {
	ctx, span := r.tracer.Start(ctx, "broadcast",
		otel.WithSpanKind(otel.SpanKindProducer),
		otel.WithSpanOperation(otel.SpanOperationCreate),
		otel.WithAttributes(
			otel.NewAttribute("messaging.message.type", msg.TypeName()),
			otel.NewAttribute("messaging.operation.direction", direction),
			otel.NewAttribute("messaging.session.id", session),
		),
	)
	defer span.End()

	if channel.HasWildcard(direction) || channel.HasWildcard(session) {
		err := &InvalidBroadcastTargetError{Direction: direction, Session: session}
		span.Error(err, "invalid broadcast target")
		return err
	}
	ch, err := message.ChannelFor(msg, direction, session)
	if err != nil {
		wrapped := fmt.Errorf("[router] broadcast: %w", err)
		span.Error(wrapped, "channel computation failed")
		return wrapped
	}
	if err := r.Publish(ctx, msg, ch); err != nil {
		span.Error(err, "publish failed")
		return err
	}
	span.Success("broadcast")
	return nil
}

// Subscribe atomically checks-or-inserts subscriber under pattern. When
// pattern is new for the router, it invokes the backend's SubscribeRaw
// before returning, exactly once.
func (r *Router) Subscribe(ctx context.Context, subscriber any, pattern string) error {
	if r.State() != Running {
		return ErrRouterNotRunning
	}
	sub, ok := subscriber.(Subscriber)
	if !ok {
		return fmt.Errorf("[router] subscribe: %T does not satisfy router.Subscriber", subscriber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range sub.Incoming() {
		r.registry.Register(m)
	}

	agents, exists := r.forward[pattern]
	if !exists {
		agents = make(map[Subscriber]struct{})
		r.forward[pattern] = agents
	}
	agents[sub] = struct{}{}

	patterns, ok := r.inverse[sub]
	if !ok {
		patterns = make(map[string]struct{})
		r.inverse[sub] = patterns
	}
	patterns[pattern] = struct{}{}

	if !exists {
		if err := r.backend.SubscribeRaw(ctx, pattern); err != nil {
			delete(agents, sub)
			if len(agents) == 0 {
				delete(r.forward, pattern)
			}
			delete(patterns, pattern)
			return fmt.Errorf("[router] subscribe_raw %s: %w", pattern, err)
		}
	}
	r.logger.Info("[router] subscribed", "agent", sub.Name(), "pattern", pattern)
	return nil
}

// Unsubscribe removes subscriber's subscription to pattern. When pattern is
// empty, it removes the subscriber from every pattern it holds. Whenever a
// pattern's subscriber set becomes empty, the pattern is removed and the
// backend's UnsubscribeRaw is invoked exactly once.
func (r *Router) Unsubscribe(ctx context.Context, subscriber any, pattern string) error {
	if r.State() != Running {
		return ErrRouterNotRunning
	}
	sub, ok := subscriber.(Subscriber)
	if !ok {
		return fmt.Errorf("[router] unsubscribe: %T does not satisfy router.Subscriber", subscriber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	patterns, ok := r.inverse[sub]
	if !ok {
		return nil
	}

	targets := []string{pattern}
	if pattern == "" {
		targets = targets[:0]
		for p := range patterns {
			targets = append(targets, p)
		}
	}

	for _, p := range targets {
		delete(patterns, p)
		agents, ok := r.forward[p]
		if !ok {
			continue
		}
		delete(agents, sub)
		if len(agents) == 0 {
			delete(r.forward, p)
			if err := r.backend.UnsubscribeRaw(ctx, p); err != nil {
				r.logger.Error("[router] unsubscribe_raw failed", "pattern", p, "error", err)
			}
		}
	}
	if len(patterns) == 0 {
		delete(r.inverse, sub)
	}
	r.logger.Info("[router] unsubscribed", "agent", sub.Name(), "pattern", pattern)
	return nil
}

// AutoSubscribe subscribes subscriber to the wildcard pattern
// "TypeName:*:*" for every type in its declared incoming set. Idempotent:
// re-invocation does not create duplicate backend subscriptions.
func (r *Router) AutoSubscribe(ctx context.Context, subscriber any) error {
	sub, ok := subscriber.(Subscriber)
	if !ok {
		return fmt.Errorf("[router] auto_subscribe: %T does not satisfy router.Subscriber", subscriber)
	}
	for _, m := range sub.Incoming() {
		pattern, err := channel.Build(m.TypeName(), "*", "*")
		if err != nil {
			return fmt.Errorf("[router] auto_subscribe: %w", err)
		}
		if err := r.Subscribe(ctx, subscriber, pattern); err != nil {
			return err
		}
	}
	return nil
}

// DeliverMessage decodes payload, computes the delivery context from ch,
// and dispatches it concurrently to every subscriber whose pattern matches
// ch and whose incoming set accepts the decoded message's type. Each
// dispatch runs in its own goroutine; DeliverMessage waits for all of them
// before returning, which preserves per-channel FIFO at the caller (the
// adapter's listener loop does not read the next message until this
// returns).
func (r *Router) DeliverMessage(ctx context.Context, ch string, payload []byte) {
	ctx, span := r.tracer.Start(ctx, "deliver",
		otel.WithSpanKind(otel.SpanKindConsumer),
		otel.WithSpanOperation(otel.SpanOperationReceive),
		otel.WithAttributes(otel.NewAttribute("messaging.destination.name", ch)),
	)
	defer span.End()

	r.mu.RLock()
	reg := r.registry
	r.mu.RUnlock()

	msg, err := codec.Decode(payload, reg)
	if err != nil {
		r.logger.Error("[router] decode failed", "channel", ch, "error", err)
		span.Error(err, "decode failed")
		return
	}

	typ, direction, session, err := channel.Parse(ch)
	if err != nil {
		r.logger.Error("[router] deliver: malformed channel", "channel", ch, "error", err)
		span.Error(err, "malformed channel")
		return
	}
	dctx := agent.DeliveryContext{MessageClass: typ, Direction: direction, SessionID: session}

	notify := r.matchingSubscribers(ch)

	var wg sync.WaitGroup
	for sub := range notify {
		if !sub.ValidateIncoming(msg) {
			continue
		}
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := s.Handle(ctx, msg, dctx); err != nil {
				r.logger.Error("[router] handler error", "channel", ch, "agent", s.Name(), "messageType", typ, "error", err)
			}
		}(sub)
	}
	wg.Wait()
	r.logger.Info("[router] delivered", "channel", ch, "messageType", msg.TypeName())
	span.Success("delivered")
}

// matchingSubscribers snapshots the forward map under a read lock and
// returns the set-valued union of subscribers whose pattern matches ch.
func (r *Router) matchingSubscribers(ch string) map[Subscriber]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notify := make(map[Subscriber]struct{})
	for pattern, agents := range r.forward {
		if !channel.Match(ch, pattern) {
			continue
		}
		for sub := range agents {
			notify[sub] = struct{}{}
		}
	}
	return notify
}
