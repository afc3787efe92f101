package daemon

import (
	"net/http"
	"testing"
)

func TestOriginAllowed(t *testing.T) {
	req := func(origin, host string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	cases := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin header", "", "127.0.0.1:8787", nil, true},
		{"same host", "http://127.0.0.1:8787", "127.0.0.1:8787", nil, true},
		{"foreign origin refused", "https://evil.example", "127.0.0.1:8787", nil, false},
		{"configured origin", "https://app.example", "127.0.0.1:8787", []string{"https://app.example"}, true},
		{"configured host form", "https://app.example", "127.0.0.1:8787", []string{"app.example"}, true},
		{"wildcard", "https://anything.example", "127.0.0.1:8787", []string{"*"}, true},
		{"garbage origin", "::not-a-url::", "127.0.0.1:8787", []string{"*"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := originAllowed(req(tc.origin, tc.host), tc.allowed); got != tc.want {
				t.Errorf("originAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRelayURL(t *testing.T) {
	cases := map[string]string{
		"relay.example:8788":        "ws://relay.example:8788/",
		"ws://relay.example:8788":   "ws://relay.example:8788/",
		"https://relay.example":     "wss://relay.example/",
		"wss://relay.example/extra": "wss://relay.example/extra",
	}
	for in, want := range cases {
		if got := relayURL(in); got != want {
			t.Errorf("relayURL(%q) = %q, want %q", in, got, want)
		}
	}
}
