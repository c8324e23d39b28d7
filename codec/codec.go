// Package codec serialises typed messages to a self-describing JSON
// payload and recovers a typed message from such bytes, consulting a
// registry to reconstruct the concrete message type that produced the
// payload.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/richland-works/agent-communication/message"
)

// TypeTag is the reserved JSON member carrying the concrete message-type
// name. Every other member belongs to the message body.
const TypeTag = "__type__"

// maxPayloadPreview bounds the payload preview carried by
// MessageValidationError.
const maxPayloadPreview = 200

// MessageClassNotRegisteredError reports that a decoded payload's type tag
// does not name a type reachable through the registry consulted at decode
// time.
type MessageClassNotRegisteredError struct {
	ClassName string
	Available []string
}

func (e *MessageClassNotRegisteredError) Error() string {
	return fmt.Sprintf("message class %q is not registered, known classes: %v", e.ClassName, e.Available)
}

// MessageValidationError reports that a decoded message body failed
// construction or its own Validate check.
type MessageValidationError struct {
	ClassName string
	Preview   string
	Err       error
}

func (e *MessageValidationError) Error() string {
	return fmt.Sprintf("message %q failed validation: %v (payload: %s)", e.ClassName, e.Err, e.Preview)
}

func (e *MessageValidationError) Unwrap() error { return e.Err }

// Registry maps a message type name to the concrete Go type used to
// reconstruct messages of that name at decode time.
type Registry interface {
	Lookup(typeName string) (reflect.Type, bool)
	TypeNames() []string
}

// MapRegistry is a concurrency-safe, mutable Registry implementation.
// Registration is typically driven by the router from agents' declared
// incoming-message sets at subscribe / auto-subscribe time (see §9's
// "explicit registry" design note).
type MapRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewMapRegistry returns an empty MapRegistry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{types: make(map[string]reflect.Type)}
}

// Register records sample's concrete type under its TypeName. sample may be
// a zero value; only its type is retained. Re-registering the same type
// name with the same underlying type is a no-op.
func (r *MapRegistry) Register(sample message.Message) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[sample.TypeName()] = t
}

// Lookup returns the concrete struct type registered under typeName.
func (r *MapRegistry) Lookup(typeName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[typeName]
	return t, ok
}

// TypeNames returns the currently registered type names, sorted, for use
// in diagnostic error messages.
func (r *MapRegistry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode emits a JSON object whose members are msg's body plus TypeTag
// naming msg's concrete type.
func Encode(msg message.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("[codec] encode %s: %w", msg.TypeName(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("[codec] encode %s: body is not a JSON object: %w", msg.TypeName(), err)
	}

	tag, err := json.Marshal(msg.TypeName())
	if err != nil {
		return nil, fmt.Errorf("[codec] encode %s: %w", msg.TypeName(), err)
	}
	fields[TypeTag] = tag

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("[codec] encode %s: %w", msg.TypeName(), err)
	}
	return out, nil
}

// Decode parses data, extracts and removes the type tag, looks up the
// corresponding message type in registry, and constructs a validated
// message instance from the remaining members.
func Decode(data []byte, registry Registry) (message.Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("[codec] decode: payload is not a JSON object: %w", err)
	}

	rawTag, ok := fields[TypeTag]
	if !ok {
		return nil, &MessageClassNotRegisteredError{ClassName: "", Available: registry.TypeNames()}
	}
	var typeName string
	if err := json.Unmarshal(rawTag, &typeName); err != nil {
		return nil, fmt.Errorf("[codec] decode: %s tag is not a string: %w", TypeTag, err)
	}
	delete(fields, TypeTag)

	concreteType, ok := registry.Lookup(typeName)
	if !ok {
		return nil, &MessageClassNotRegisteredError{ClassName: typeName, Available: registry.TypeNames()}
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("[codec] decode %s: %w", typeName, err)
	}

	instancePtr := reflect.New(concreteType)
	if err := json.Unmarshal(body, instancePtr.Interface()); err != nil {
		return nil, &MessageValidationError{ClassName: typeName, Preview: preview(body), Err: err}
	}

	msg, ok := instancePtr.Elem().Interface().(message.Message)
	if !ok {
		msg, ok = instancePtr.Interface().(message.Message)
	}
	if !ok {
		return nil, fmt.Errorf("[codec] decode %s: registered type does not implement message.Message", typeName)
	}

	if validator, ok := msg.(message.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, &MessageValidationError{ClassName: typeName, Preview: preview(body), Err: err}
		}
	}

	return msg, nil
}

func preview(body []byte) string {
	if len(body) <= maxPayloadPreview {
		return string(body)
	}
	return string(body[:maxPayloadPreview])
}
