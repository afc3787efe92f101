// Package dialer is the client side of a paseo pairing: it stores host
// profiles, races their connection candidates, and keeps a live session to
// the winning endpoint.
package dialer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Connection candidate types. Direct candidates dial the daemon's session
// endpoint straight; relay candidates JOIN the daemon's named relay session.
const (
	ConnDirect = "direct"
	ConnRelay  = "relay"
)

// Connection is one way to reach a host. Endpoint is a host:port or URL for
// direct candidates and the relay base URL for relay candidates.
type Connection struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Endpoint string    `json:"endpoint"`
	AddedAt  time.Time `json:"addedAt"`
}

// NewConnection mints a candidate with a fresh connection id.
func NewConnection(connType, endpoint string) Connection {
	return Connection{
		ID:       "conn_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:     connType,
		Endpoint: endpoint,
		AddedAt:  time.Now().UTC(),
	}
}

// ProfileMetadata carries ids this host was previously known under. The
// daemon's server_info is authoritative; when it disagrees with the stored
// id the profile is rekeyed and the old id lands here.
type ProfileMetadata struct {
	LegacyIDs []string `json:"legacyIds,omitempty"`
}

// HostProfile is the persisted record of one paired daemon.
type HostProfile struct {
	ServerID              string          `json:"serverId"`
	Label                 string          `json:"label,omitempty"`
	DaemonPublicKeyB64    string          `json:"daemonPublicKeyB64,omitempty"`
	Connections           []Connection    `json:"connections"`
	PreferredConnectionID string          `json:"preferredConnectionId,omitempty"`
	Metadata              ProfileMetadata `json:"metadata"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// connection returns the candidate with the given id, if present.
func (p *HostProfile) connection(id string) (Connection, bool) {
	for _, c := range p.Connections {
		if c.ID == id {
			return c, true
		}
	}
	return Connection{}, false
}

// hasEndpoint reports whether an equivalent candidate is already stored.
func (p *HostProfile) hasEndpoint(connType, endpoint string) bool {
	for _, c := range p.Connections {
		if c.Type == connType && c.Endpoint == endpoint {
			return true
		}
	}
	return false
}

// knownAs reports whether id is the current or a legacy id of this host.
func (p *HostProfile) knownAs(id string) bool {
	if p.ServerID == id {
		return true
	}
	for _, legacy := range p.Metadata.LegacyIDs {
		if legacy == id {
			return true
		}
	}
	return false
}

// HostPreferences holds per-host client defaults, most importantly the
// create-agent form state the apps restore between sessions. The embedded
// ServerID tracks rekeys together with the map key.
type HostPreferences struct {
	ServerID    string          `json:"serverId"`
	CreateAgent json.RawMessage `json:"createAgent,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}
