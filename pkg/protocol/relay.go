package protocol

import "encoding/json"

// Relay rendezvous. The first text frame after connect names the side:
// daemons send "REGISTER <sessionId>", clients send "JOIN <sessionId>".
// The relay answers "ok" and from then on forwards frames opaquely:
// daemon frames are broadcast to every attached client, client frames are
// wrapped in a ClientFrame so the daemon can demultiplex.
const (
	RelayRegisterPrefix = "REGISTER "
	RelayJoinPrefix     = "JOIN "
	RelayAttachOK       = "ok"
)

// ClientFrame wraps a client-side frame on its way to the daemon. Gone is
// set (with empty Data) when the client side detaches, so the daemon can
// retire the per-client session.
type ClientFrame struct {
	ClientID string          `json:"clientId"`
	Gone     bool            `json:"gone,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
