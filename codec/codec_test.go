package codec_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/richland-works/agent-communication/codec"
)

type sampleMessage struct {
	Content string `json:"content"`
}

func (sampleMessage) TypeName() string { return "SampleMessage" }

type validatingMessage struct {
	Amount float64 `json:"amount"`
}

func (validatingMessage) TypeName() string { return "ValidatingMessage" }

func (m validatingMessage) Validate() error {
	if m.Amount < 0 {
		return errors.New("amount must be non-negative")
	}
	return nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	registry := codec.NewMapRegistry()
	registry.Register(sampleMessage{})

	original := sampleMessage{Content: "Hello"}
	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), `"__type__":"SampleMessage"`) {
		t.Errorf("Encode() = %s, missing type tag", data)
	}

	decoded, err := codec.Decode(data, registry)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := decoded.(sampleMessage)
	if !ok {
		t.Fatalf("Decode() returned %T, want sampleMessage", decoded)
	}
	if got != original {
		t.Errorf("Decode(Encode()) = %+v, want %+v", got, original)
	}
}

func TestDecodeUnregisteredType(t *testing.T) {
	t.Parallel()

	registry := codec.NewMapRegistry()
	registry.Register(sampleMessage{})

	_, err := codec.Decode([]byte(`{"__type__":"UnknownMessage"}`), registry)

	var notRegistered *codec.MessageClassNotRegisteredError
	if !errors.As(err, &notRegistered) {
		t.Fatalf("Decode() error = %v, want *MessageClassNotRegisteredError", err)
	}
	if notRegistered.ClassName != "UnknownMessage" {
		t.Errorf("ClassName = %q, want UnknownMessage", notRegistered.ClassName)
	}
	if len(notRegistered.Available) != 1 || notRegistered.Available[0] != "SampleMessage" {
		t.Errorf("Available = %v, want [SampleMessage]", notRegistered.Available)
	}
}

func TestDecodeValidationFailure(t *testing.T) {
	t.Parallel()

	registry := codec.NewMapRegistry()
	registry.Register(validatingMessage{})

	_, err := codec.Decode([]byte(`{"__type__":"ValidatingMessage","amount":-5}`), registry)

	var validationErr *codec.MessageValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Decode() error = %v, want *MessageValidationError", err)
	}
	if validationErr.ClassName != "ValidatingMessage" {
		t.Errorf("ClassName = %q, want ValidatingMessage", validationErr.ClassName)
	}
}

func TestDecodeMissingTypeTag(t *testing.T) {
	t.Parallel()

	registry := codec.NewMapRegistry()
	_, err := codec.Decode([]byte(`{"content":"Hello"}`), registry)

	var notRegistered *codec.MessageClassNotRegisteredError
	if !errors.As(err, &notRegistered) {
		t.Fatalf("Decode() error = %v, want *MessageClassNotRegisteredError", err)
	}
}
