package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidOffer covers every way a pasted offer can be unusable: wrong
// version (v=1 included), missing fields, bad encoding, offer in the query
// string instead of the fragment.
var ErrInvalidOffer = errors.New("invalid offer")

// ConnectionOfferV2 is the pairing payload the daemon logs once at boot.
type ConnectionOfferV2 struct {
	V                  int        `json:"v"`
	ServerID           string     `json:"serverId"`
	DaemonPublicKeyB64 string     `json:"daemonPublicKeyB64"`
	Relay              OfferRelay `json:"relay"`
}

type OfferRelay struct {
	Endpoint string `json:"endpoint"`
}

// EncodeOffer renders the offer as base64url JSON (no padding).
func EncodeOffer(o ConnectionOfferV2) (string, error) {
	if err := validateOffer(o); err != nil {
		return "", err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal offer: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeOffer parses a base64url offer and verifies v=2 with all fields
// present.
func DecodeOffer(encoded string) (ConnectionOfferV2, error) {
	// Tolerate padded input from careless copy-paste.
	trimmed := strings.TrimRight(encoded, "=")
	data, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return ConnectionOfferV2{}, fmt.Errorf("%w: decode base64url: %v", ErrInvalidOffer, err)
	}
	var o ConnectionOfferV2
	if err := json.Unmarshal(data, &o); err != nil {
		return ConnectionOfferV2{}, fmt.Errorf("%w: parse json: %v", ErrInvalidOffer, err)
	}
	if err := validateOffer(o); err != nil {
		return ConnectionOfferV2{}, err
	}
	return o, nil
}

func validateOffer(o ConnectionOfferV2) error {
	if o.V != 2 {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidOffer, o.V)
	}
	if o.ServerID == "" {
		return fmt.Errorf("%w: missing serverId", ErrInvalidOffer)
	}
	if o.DaemonPublicKeyB64 == "" {
		return fmt.Errorf("%w: missing daemonPublicKeyB64", ErrInvalidOffer)
	}
	if o.Relay.Endpoint == "" {
		return fmt.Errorf("%w: missing relay.endpoint", ErrInvalidOffer)
	}
	return nil
}

// OfferURL builds the pairing URL. The offer rides in the fragment so it is
// never sent to the web host serving the client shell.
func OfferURL(host string, o ConnectionOfferV2) (string, error) {
	encoded, err := EncodeOffer(o)
	if err != nil {
		return "", err
	}
	return "https://" + host + "/#offer=" + encoded, nil
}

// ParseOfferURL extracts and decodes the offer from a pairing URL. Offers
// found in the query string are rejected outright.
func ParseOfferURL(raw string) (ConnectionOfferV2, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ConnectionOfferV2{}, fmt.Errorf("%w: parse url: %v", ErrInvalidOffer, err)
	}
	if u.Query().Get("offer") != "" {
		return ConnectionOfferV2{}, fmt.Errorf("%w: offer in query string", ErrInvalidOffer)
	}
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return ConnectionOfferV2{}, fmt.Errorf("%w: parse fragment: %v", ErrInvalidOffer, err)
	}
	encoded := frag.Get("offer")
	if encoded == "" {
		return ConnectionOfferV2{}, fmt.Errorf("%w: no offer in fragment", ErrInvalidOffer)
	}
	return DecodeOffer(encoded)
}
