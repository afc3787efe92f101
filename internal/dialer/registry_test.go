package dialer

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paseohq/paseo/internal/pairing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(t.TempDir(), nil)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	reg := testRegistry(t)

	p := &HostProfile{
		ServerID: "srv_abc",
		Label:    "workstation",
		Connections: []Connection{
			NewConnection(ConnDirect, "127.0.0.1:8787"),
			NewConnection(ConnRelay, "wss://relay.example.com"),
		},
	}
	if err := reg.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Errorf("timestamps not stamped: %+v", p)
	}

	got, err := reg.Load("srv_abc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ServerID != "srv_abc" || got.Label != "workstation" {
		t.Errorf("got %+v", got)
	}
	if len(got.Connections) != 2 {
		t.Fatalf("connections = %d, want 2", len(got.Connections))
	}
	if got.Connections[0].Type != ConnDirect || got.Connections[1].Type != ConnRelay {
		t.Errorf("connection types = %s, %s", got.Connections[0].Type, got.Connections[1].Type)
	}
}

func TestLoadMissing(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Load("srv_nope"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("err = %v, want ErrHostNotFound", err)
	}
}

func TestResolveLegacyID(t *testing.T) {
	reg := testRegistry(t)
	p := &HostProfile{
		ServerID:    "srv_new",
		Connections: []Connection{NewConnection(ConnDirect, "127.0.0.1:1")},
		Metadata:    ProfileMetadata{LegacyIDs: []string{"legacy-daemon-id"}},
	}
	if err := reg.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := reg.Resolve("legacy-daemon-id")
	if err != nil {
		t.Fatalf("resolve by legacy id: %v", err)
	}
	if got.ServerID != "srv_new" {
		t.Errorf("resolved serverId = %s, want srv_new", got.ServerID)
	}

	if _, err := reg.Resolve("srv_unknown"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("unknown id err = %v, want ErrHostNotFound", err)
	}
}

func TestListSkipsCorruptProfile(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Save(&HostProfile{ServerID: "srv_good"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(reg.hostsDir(), "srv_bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("plant corrupt file: %v", err)
	}

	got, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ServerID != "srv_good" {
		t.Errorf("list = %+v, want just srv_good", got)
	}
}

func TestRekeyMovesProfileAndPreferences(t *testing.T) {
	reg := testRegistry(t)
	p := &HostProfile{
		ServerID:    "legacy-daemon-id",
		Label:       "laptop",
		Connections: []Connection{NewConnection(ConnDirect, "127.0.0.1:8787")},
	}
	if err := reg.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := reg.UpdatePreferences("legacy-daemon-id", func(hp *HostPreferences) {
		hp.CreateAgent = json.RawMessage(`{"cwd":"/work"}`)
	})
	if err != nil {
		t.Fatalf("seed preferences: %v", err)
	}

	rekeyed, err := reg.Rekey("legacy-daemon-id", "srv_real")
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if rekeyed.ServerID != "srv_real" {
		t.Errorf("serverId = %s, want srv_real", rekeyed.ServerID)
	}
	if len(rekeyed.Metadata.LegacyIDs) != 1 || rekeyed.Metadata.LegacyIDs[0] != "legacy-daemon-id" {
		t.Errorf("legacyIds = %v", rekeyed.Metadata.LegacyIDs)
	}
	if rekeyed.Label != "laptop" || len(rekeyed.Connections) != 1 {
		t.Errorf("profile contents lost: %+v", rekeyed)
	}

	if _, err := reg.Load("srv_real"); err != nil {
		t.Errorf("load new id: %v", err)
	}
	if _, err := reg.Load("legacy-daemon-id"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("old profile still present, err = %v", err)
	}
	if _, err := os.Stat(reg.profilePath("legacy-daemon-id")); !os.IsNotExist(err) {
		t.Errorf("old profile file still on disk")
	}

	prefs, err := reg.Preferences("srv_real")
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.ServerID != "srv_real" {
		t.Errorf("preferences serverId = %s, want srv_real", prefs.ServerID)
	}
	if string(prefs.CreateAgent) != `{"cwd":"/work"}` {
		t.Errorf("createAgent prefs = %s", prefs.CreateAgent)
	}
	old, err := reg.Preferences("legacy-daemon-id")
	if err != nil {
		t.Fatalf("old preferences: %v", err)
	}
	if len(old.CreateAgent) != 0 {
		t.Errorf("old preferences entry survived rekey: %s", old.CreateAgent)
	}

	// Resolving by the legacy id still finds the host.
	if got, err := reg.Resolve("legacy-daemon-id"); err != nil || got.ServerID != "srv_real" {
		t.Errorf("resolve legacy after rekey: %+v, %v", got, err)
	}
}

func TestMergeOfferIdempotent(t *testing.T) {
	reg := testRegistry(t)
	offer := pairing.ConnectionOfferV2{
		V:                  2,
		ServerID:           "srv_merge",
		DaemonPublicKeyB64: "cGs",
		Relay:              pairing.OfferRelay{Endpoint: "wss://relay.example.com"},
	}

	p, err := reg.MergeOffer(offer, "192.168.1.10:8787", "desk")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(p.Connections) != 2 {
		t.Fatalf("connections = %d, want direct+relay", len(p.Connections))
	}

	again, err := reg.MergeOffer(offer, "192.168.1.10:8787", "")
	if err != nil {
		t.Fatalf("re-merge: %v", err)
	}
	if len(again.Connections) != 2 {
		t.Errorf("re-merge duplicated connections: %d", len(again.Connections))
	}
	if again.Label != "desk" {
		t.Errorf("label lost on re-merge: %q", again.Label)
	}
}

func TestDeleteRemovesPreferences(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Save(&HostProfile{ServerID: "srv_del"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := reg.UpdatePreferences("srv_del", func(hp *HostPreferences) {
		hp.CreateAgent = json.RawMessage(`{}`)
	})
	if err != nil {
		t.Fatalf("seed preferences: %v", err)
	}

	if err := reg.Delete("srv_del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Load("srv_del"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("profile survived delete")
	}
	prefs, err := reg.Preferences("srv_del")
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if len(prefs.CreateAgent) != 0 {
		t.Errorf("preferences survived delete: %s", prefs.CreateAgent)
	}
}
