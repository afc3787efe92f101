package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validOffer() ConnectionOfferV2 {
	return ConnectionOfferV2{
		V:                  2,
		ServerID:           "srv_abc123",
		DaemonPublicKeyB64: "cHVibGljLWtleS1ieXRlcw",
		Relay:              OfferRelay{Endpoint: "relay.example.com:443"},
	}
}

func TestOfferRoundTrip(t *testing.T) {
	want := validOffer()
	encoded, err := EncodeOffer(want)
	if err != nil {
		t.Fatalf("EncodeOffer: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("encoding not base64url without padding: %q", encoded)
	}
	got, err := DecodeOffer(encoded)
	if err != nil {
		t.Fatalf("DecodeOffer: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDecodeOfferRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectionOfferV2)
	}{
		{"v1", func(o *ConnectionOfferV2) { o.V = 1 }},
		{"v0", func(o *ConnectionOfferV2) { o.V = 0 }},
		{"missing serverId", func(o *ConnectionOfferV2) { o.ServerID = "" }},
		{"missing key", func(o *ConnectionOfferV2) { o.DaemonPublicKeyB64 = "" }},
		{"missing relay endpoint", func(o *ConnectionOfferV2) { o.Relay.Endpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOffer()
			tt.mutate(&o)
			encoded := mustEncodeRaw(t, o)
			if _, err := DecodeOffer(encoded); !errors.Is(err, ErrInvalidOffer) {
				t.Errorf("DecodeOffer error = %v, want ErrInvalidOffer", err)
			}
		})
	}
}

func TestDecodeOfferBadInput(t *testing.T) {
	for _, in := range []string{"", "!!!not-base64!!!", "aGVsbG8"} {
		if _, err := DecodeOffer(in); !errors.Is(err, ErrInvalidOffer) {
			t.Errorf("DecodeOffer(%q) error = %v, want ErrInvalidOffer", in, err)
		}
	}
}

func TestOfferURLFragment(t *testing.T) {
	o := validOffer()
	raw, err := OfferURL("paseo.example.com", o)
	if err != nil {
		t.Fatalf("OfferURL: %v", err)
	}
	if !strings.Contains(raw, "/#offer=") {
		t.Fatalf("offer not in fragment: %q", raw)
	}
	if strings.Contains(raw, "?offer=") {
		t.Fatalf("offer leaked into query: %q", raw)
	}

	got, err := ParseOfferURL(raw)
	if err != nil {
		t.Fatalf("ParseOfferURL: %v", err)
	}
	if got != o {
		t.Errorf("url round trip mismatch: got %+v want %+v", got, o)
	}
}

func TestParseOfferURLRejectsQuery(t *testing.T) {
	encoded, err := EncodeOffer(validOffer())
	if err != nil {
		t.Fatalf("EncodeOffer: %v", err)
	}
	if _, err := ParseOfferURL("https://x.test/?offer=" + encoded); !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("query offer accepted, err = %v", err)
	}
	if _, err := ParseOfferURL("https://x.test/#nothing=here"); !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("missing fragment offer accepted, err = %v", err)
	}
}

func TestDecodeOfferToleratesPadding(t *testing.T) {
	encoded, err := EncodeOffer(validOffer())
	if err != nil {
		t.Fatalf("EncodeOffer: %v", err)
	}
	if _, err := DecodeOffer(encoded + "=="); err != nil {
		t.Errorf("padded offer rejected: %v", err)
	}
}

// mustEncodeRaw produces the wire form EncodeOffer would, minus its
// validation, so invalid offers can reach DecodeOffer.
func mustEncodeRaw(t *testing.T, o ConnectionOfferV2) string {
	t.Helper()
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(data)
}
