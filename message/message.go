// Package message defines the contract a typed payload must satisfy to
// travel through the router: a stable type name for the wire tag and,
// optionally, self-validation, which the codec runs when it decodes a
// message. Constructing or encoding a message does not run it.
package message

import "github.com/richland-works/agent-communication/channel"

// Message is an opaque, immutable record carried by the router. TypeName
// must be stable across processes and is used verbatim as the channel's
// message-type segment and as the wire tag's value.
type Message interface {
	TypeName() string
}

// Validator is implemented by messages that carry invariants beyond what
// JSON unmarshalling enforces. The codec calls Validate after decoding and
// wraps a non-nil error as a MessageValidationError.
type Validator interface {
	Validate() error
}

// ChannelFor computes the concrete channel a message is published on, or
// the pattern an agent subscribes to, as "TypeName:direction:session".
func ChannelFor(m Message, direction, session string) (string, error) {
	return channel.Build(m.TypeName(), direction, session)
}
