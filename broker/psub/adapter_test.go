package psub

import "testing"

func TestHasGlobMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		want    bool
	}{
		{"SampleMessage:request:session123", false},
		{"SampleMessage:*:*", true},
		{"SampleMessage:**", true},
		{"literal?", true},
		{"[abc]", true},
	}
	for _, tc := range cases {
		if got := hasGlobMeta(tc.pattern); got != tc.want {
			t.Errorf("hasGlobMeta(%q) = %v, want %v", tc.pattern, got, tc.want)
		}
	}
}

func TestWithHostPortAndCredentials(t *testing.T) {
	t.Parallel()

	a := NewAdapter(
		WithHostPort("redis.internal", 6380),
		WithCredentials("agent", "secret"),
		WithDB(2),
	)
	if a.cfg.redisOptions.Addr != "redis.internal:6380" {
		t.Errorf("Addr = %q, want redis.internal:6380", a.cfg.redisOptions.Addr)
	}
	if a.cfg.redisOptions.Username != "agent" || a.cfg.redisOptions.Password != "secret" {
		t.Errorf("credentials = (%q,%q), want (agent,secret)", a.cfg.redisOptions.Username, a.cfg.redisOptions.Password)
	}
	if a.cfg.redisOptions.DB != 2 {
		t.Errorf("DB = %d, want 2", a.cfg.redisOptions.DB)
	}
}
