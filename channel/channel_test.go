package channel_test

import (
	"errors"
	"testing"

	"github.com/richland-works/agent-communication/channel"
)

func TestBuildParseRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct{ typ, dir, sess string }{
		{"SampleMessage", "request", "session123"},
		{"T", "response", "s"},
		{"PaymentRequestMessage", "request", "session789"},
	}

	for _, tc := range cases {
		t.Run(tc.typ+"-"+tc.dir+"-"+tc.sess, func(t *testing.T) {
			t.Parallel()
			ch, err := channel.Build(tc.typ, tc.dir, tc.sess)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			typ, dir, sess, err := channel.Parse(ch)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if typ != tc.typ || dir != tc.dir || sess != tc.sess {
				t.Errorf("Parse(Build()) = (%q,%q,%q), want (%q,%q,%q)", typ, dir, sess, tc.typ, tc.dir, tc.sess)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"too:few",
		"way:too:many:parts",
		"empty::session",
		"",
	}

	for _, ch := range cases {
		t.Run(ch, func(t *testing.T) {
			t.Parallel()
			_, _, _, err := channel.Parse(ch)
			var invalid *channel.InvalidChannelFormat
			if !errors.As(err, &invalid) {
				t.Errorf("Parse(%q) error = %v, want *InvalidChannelFormat", ch, err)
			}
		})
	}
}

func TestBuildRejectsColonInComponent(t *testing.T) {
	t.Parallel()
	_, err := channel.Build("Sample:Message", "request", "s")
	if err == nil {
		t.Fatal("Build() error = nil, want InvalidChannelFormat")
	}
}

func TestMatchExactIsConsistentWithBuild(t *testing.T) {
	t.Parallel()

	ch, _ := channel.Build("SampleMessage", "request", "session123")
	other, _ := channel.Build("SampleMessage", "response", "session123")

	if !channel.Match(ch, ch) {
		t.Errorf("Match(%q, %q) = false, want true", ch, ch)
	}
	if channel.Match(other, ch) {
		t.Errorf("Match(%q, %q) = true, want false", other, ch)
	}
}

func TestMatchWildcardStar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ch, pattern string
		want        bool
	}{
		{"SampleMessage:request:session456", "SampleMessage:*:*", true},
		{"SampleMessage:response:session789", "SampleMessage:*:*", true},
		{"SampleMessage:request:session456", "SampleMessage:request:*", true},
		{"SampleMessage:response:session456", "SampleMessage:request:*", false},
		{"OtherMessage:request:session456", "SampleMessage:*:*", false},
	}

	for _, tc := range cases {
		t.Run(tc.ch+"~"+tc.pattern, func(t *testing.T) {
			t.Parallel()
			if got := channel.Match(tc.ch, tc.pattern); got != tc.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tc.ch, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestMatchWildcardDoubleStar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ch, pattern string
		want        bool
	}{
		{"SampleMessage:request:session456", "**", true},
		{"SampleMessage:request:session456", "SampleMessage:**", true},
		{"SampleMessage:request", "SampleMessage:**", true},
		{"SampleMessage", "SampleMessage:**", true},
		{"OtherMessage:request:session456", "SampleMessage:**", false},
	}

	for _, tc := range cases {
		t.Run(tc.ch+"~"+tc.pattern, func(t *testing.T) {
			t.Parallel()
			if got := channel.Match(tc.ch, tc.pattern); got != tc.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tc.ch, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestMatchRejectsDifferingSegmentCount(t *testing.T) {
	t.Parallel()
	if channel.Match("SampleMessage:request", "SampleMessage:*:*") {
		t.Error("Match() = true for differing segment counts without **, want false")
	}
}

func TestExtractSession(t *testing.T) {
	t.Parallel()

	session, ok := channel.ExtractSession("SampleMessage:request:session123")
	if !ok || session != "session123" {
		t.Errorf("ExtractSession() = (%q, %v), want (session123, true)", session, ok)
	}

	_, ok = channel.ExtractSession("SampleMessage:request:*")
	if ok {
		t.Error("ExtractSession() ok = true for wildcard session, want false")
	}

	_, ok = channel.ExtractSession("malformed")
	if ok {
		t.Error("ExtractSession() ok = true for malformed channel, want false")
	}
}
