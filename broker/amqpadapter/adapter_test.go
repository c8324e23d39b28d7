package amqpadapter

import "testing"

func TestPatternToRoutingKey(t *testing.T) {
	t.Parallel()

	cases := []struct{ pattern, want string }{
		{"SampleMessage:request:session123", "SampleMessage.request.session123"},
		{"SampleMessage:*:*", "SampleMessage.#.#"},
		{"T:request:s", "T.request.s"},
	}
	for _, tc := range cases {
		if got := patternToRoutingKey(tc.pattern); got != tc.want {
			t.Errorf("patternToRoutingKey(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestChannelRoutingKeyRoundTrip(t *testing.T) {
	t.Parallel()

	ch := "SampleMessage:request:session123"
	key := channelToRoutingKey(ch)
	if key != "SampleMessage.request.session123" {
		t.Fatalf("channelToRoutingKey(%q) = %q", ch, key)
	}
	if back := routingKeyToChannel(key); back != ch {
		t.Errorf("routingKeyToChannel(channelToRoutingKey(%q)) = %q, want %q", ch, back, ch)
	}
}

func TestQueueNameForIsDeterministicAndSanitised(t *testing.T) {
	t.Parallel()

	pattern := "SampleMessage:*:*"
	name1 := queueNameFor(pattern)
	name2 := queueNameFor(pattern)
	if name1 != name2 {
		t.Fatalf("queueNameFor(%q) is not deterministic: %q vs %q", pattern, name1, name2)
	}
	if name1 == queueNameFor("OtherMessage:*:*") {
		t.Errorf("queueNameFor produced the same name for different patterns")
	}
	const wantPrefix = "agent_communication.SampleMessage.star.star."
	if len(name1) <= len(wantPrefix) || name1[:len(wantPrefix)] != wantPrefix {
		t.Errorf("queueNameFor(%q) = %q, want prefix %q", pattern, name1, wantPrefix)
	}
}
