// Package agent provides the façade a participant in the messaging system
// uses to declare the message types it accepts and emits, and to subscribe,
// unsubscribe, publish, and broadcast through a bound router.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/richland-works/agent-communication/message"
)

// UnboundAgentError is returned by every operation that requires a bound
// router when none has been set via Bind.
type UnboundAgentError struct{}

func (UnboundAgentError) Error() string {
	return "agent has no bound router"
}

// ErrUnboundAgent is the sentinel value returned for unbound-router
// failures; it is always of type *UnboundAgentError.
var ErrUnboundAgent error = &UnboundAgentError{}

// DisallowedOutgoingTypeError reports that an agent attempted to publish or
// broadcast a message type outside its declared outgoing set.
type DisallowedOutgoingTypeError struct {
	TypeName string
}

func (e *DisallowedOutgoingTypeError) Error() string {
	return fmt.Sprintf("message type %q is not in this agent's outgoing set", e.TypeName)
}

// DeliveryContext carries the parsed channel a message arrived on, handed
// to Handler alongside the decoded message.
type DeliveryContext struct {
	MessageClass string
	Direction    string
	SessionID    string
}

// Handler processes one delivered message. A returned error is logged by
// the router and does not affect sibling dispatches.
type Handler func(ctx context.Context, msg message.Message, dctx DeliveryContext) error

// Router is the subset of router.Router's contract an agent depends on.
// Defining it here, rather than importing package router, keeps agent free
// of a dependency on the router's backend machinery.
type Router interface {
	Subscribe(ctx context.Context, subscriber any, pattern string) error
	Unsubscribe(ctx context.Context, subscriber any, pattern string) error
	AutoSubscribe(ctx context.Context, subscriber any) error
	Publish(ctx context.Context, msg message.Message, channel string) error
	Broadcast(ctx context.Context, msg message.Message, direction, session string) error
}

// Agent carries the permitted incoming and outgoing message sets for one
// participant, plus the handler invoked for deliveries. Its lifetime is
// independent of any router it is bound to.
type Agent struct {
	mu             sync.Mutex
	name           string
	incoming       []message.Message
	outgoing       map[string]struct{}
	handler        Handler
	router         Router
	autoSubscribed bool
}

// New constructs an Agent. name identifies the agent in log output.
// incoming lists sample values (typically zero values) of every message
// type this agent accepts; outgoing lists sample values of every type it
// is permitted to publish or broadcast.
func New(name string, handler Handler, incoming, outgoing []message.Message) *Agent {
	out := make(map[string]struct{}, len(outgoing))
	for _, m := range outgoing {
		out[m.TypeName()] = struct{}{}
	}
	return &Agent{
		name:     name,
		incoming: incoming,
		outgoing: out,
		handler:  handler,
	}
}

// Name returns the agent's identifying name.
func (a *Agent) Name() string { return a.name }

// Incoming returns the declared incoming message samples, used by the
// router to auto-subscribe and to populate the type registry.
func (a *Agent) Incoming() []message.Message { return a.incoming }

// Bind attaches router to the agent. Subsequent Subscribe, Unsubscribe,
// Publish, and Broadcast calls delegate to it.
func (a *Agent) Bind(router Router) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.router = router
}

// ValidateIncoming reports whether msg's type is in this agent's declared
// incoming set.
func (a *Agent) ValidateIncoming(msg message.Message) bool {
	for _, m := range a.incoming {
		if m.TypeName() == msg.TypeName() {
			return true
		}
	}
	return false
}

// ValidateOutgoing reports whether msg's type is in this agent's declared
// outgoing set.
func (a *Agent) ValidateOutgoing(msg message.Message) bool {
	_, ok := a.outgoing[msg.TypeName()]
	return ok
}

// Handle invokes the agent's handler for a delivered message.
func (a *Agent) Handle(ctx context.Context, msg message.Message, dctx DeliveryContext) error {
	return a.handler(ctx, msg, dctx)
}

// Subscribe binds the agent to pattern. When pattern is empty, it instead
// auto-subscribes to the router-computed pattern for every declared
// incoming type and marks the agent as auto-subscribed.
func (a *Agent) Subscribe(ctx context.Context, pattern string) error {
	a.mu.Lock()
	router := a.router
	a.mu.Unlock()
	if router == nil {
		return ErrUnboundAgent
	}

	if pattern == "" {
		if err := router.AutoSubscribe(ctx, a); err != nil {
			return err
		}
		a.mu.Lock()
		a.autoSubscribed = true
		a.mu.Unlock()
		return nil
	}
	return router.Subscribe(ctx, a, pattern)
}

// Unsubscribe removes the agent's subscription to pattern. When pattern is
// empty, it removes every subscription the agent holds and clears the
// auto-subscribed flag.
func (a *Agent) Unsubscribe(ctx context.Context, pattern string) error {
	a.mu.Lock()
	router := a.router
	a.mu.Unlock()
	if router == nil {
		return ErrUnboundAgent
	}

	if err := router.Unsubscribe(ctx, a, pattern); err != nil {
		return err
	}
	if pattern == "" {
		a.mu.Lock()
		a.autoSubscribed = false
		a.mu.Unlock()
	}
	return nil
}

// Publish validates msg's type against the agent's outgoing set, then
// delegates to the bound router. The backend is never invoked when
// validation fails.
func (a *Agent) Publish(ctx context.Context, msg message.Message, channel string) error {
	a.mu.Lock()
	router := a.router
	a.mu.Unlock()
	if router == nil {
		return ErrUnboundAgent
	}
	if !a.ValidateOutgoing(msg) {
		return &DisallowedOutgoingTypeError{TypeName: msg.TypeName()}
	}
	return router.Publish(ctx, msg, channel)
}

// Broadcast validates msg's type against the agent's outgoing set, then
// delegates to the bound router.
func (a *Agent) Broadcast(ctx context.Context, msg message.Message, direction, session string) error {
	a.mu.Lock()
	router := a.router
	a.mu.Unlock()
	if router == nil {
		return ErrUnboundAgent
	}
	if !a.ValidateOutgoing(msg) {
		return &DisallowedOutgoingTypeError{TypeName: msg.TypeName()}
	}
	return router.Broadcast(ctx, msg, direction, session)
}
