// Package channel implements the canonical three-part channel name grammar
// used throughout the agent communication system: "MessageType:direction:
// session". It builds and parses channel names, and evaluates subscription
// pattern matches including the "*" (any single segment) and "**" (any
// number of segments) wildcards.
//
// Channels are the only addressing scheme the router understands; backend
// adapters translate them to and from their own native wire form (see
// broker/psub and broker/amqpadapter).
package channel

import "strings"

// segmentCount is the number of colon-delimited components a well-formed
// channel name carries: message type, direction, session.
const segmentCount = 3

// InvalidChannelFormat is returned when a channel name does not split into
// exactly three non-empty, colon-free components.
type InvalidChannelFormat struct {
	Channel        string
	ExpectedFormat string
}

func (e *InvalidChannelFormat) Error() string {
	return "channel '" + e.Channel + "' has invalid format, expected '" + e.ExpectedFormat + "'"
}

const expectedFormat = "MessageType:direction:session"

// Build composes a channel name from its three components. Each component
// must be non-empty and must not itself contain a colon.
func Build(messageType, direction, session string) (string, error) {
	for _, part := range []string{messageType, direction, session} {
		if part == "" || strings.Contains(part, ":") {
			return "", &InvalidChannelFormat{
				Channel:        messageType + ":" + direction + ":" + session,
				ExpectedFormat: expectedFormat,
			}
		}
	}
	return messageType + ":" + direction + ":" + session, nil
}

// Parse splits a channel name into its message type, direction, and session
// components. It fails with InvalidChannelFormat unless the input splits
// into exactly three non-empty components on ":".
func Parse(ch string) (messageType, direction, session string, err error) {
	parts := strings.Split(ch, ":")
	if len(parts) != segmentCount {
		return "", "", "", &InvalidChannelFormat{Channel: ch, ExpectedFormat: expectedFormat}
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", &InvalidChannelFormat{Channel: ch, ExpectedFormat: expectedFormat}
		}
	}
	return parts[0], parts[1], parts[2], nil
}

// ExtractSession returns the session component of channel, or ("", false) if
// the channel is malformed or its session component is the wildcard "*".
func ExtractSession(ch string) (string, bool) {
	_, _, session, err := Parse(ch)
	if err != nil || session == "*" {
		return "", false
	}
	return session, true
}

// HasWildcard reports whether pattern contains any segment that is a
// wildcard ("*" or "**"). Router.Broadcast uses it to reject a wildcard
// direction or session.
func HasWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, ":") {
		if seg == "*" || seg == "**" {
			return true
		}
	}
	return false
}

// Match reports whether channel matches pattern. A literal pattern (no
// wildcard segments) matches iff it is byte-equal to channel. A "*" segment
// matches exactly one channel segment. A "**" segment matches zero or more
// channel segments, including none, and may appear anywhere in the pattern.
//
// Match rejects channels whose segment count differs from the pattern's,
// unless the pattern uses "**" to absorb the difference.
func Match(ch, pattern string) bool {
	if ch == pattern {
		return true
	}
	return matchSegments(strings.Split(ch, ":"), strings.Split(pattern, ":"))
}

func matchSegments(ch, pat []string) bool {
	if len(pat) == 0 {
		return len(ch) == 0
	}
	head := pat[0]
	if head == "**" {
		for i := 0; i <= len(ch); i++ {
			if matchSegments(ch[i:], pat[1:]) {
				return true
			}
		}
		return false
	}
	if len(ch) == 0 {
		return false
	}
	if head != "*" && head != ch[0] {
		return false
	}
	return matchSegments(ch[1:], pat[1:])
}
