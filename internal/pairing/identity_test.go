package pairing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	home := t.TempDir()

	first, err := LoadOrCreateIdentity(home, "")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if !strings.HasPrefix(first.ServerID, "srv_") {
		t.Errorf("ServerID = %q, want srv_ prefix", first.ServerID)
	}
	if len(first.PublicKey) == 0 {
		t.Fatalf("missing public key")
	}

	second, err := LoadOrCreateIdentity(home, "")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.ServerID != first.ServerID {
		t.Errorf("ServerID changed across boots: %q then %q", first.ServerID, second.ServerID)
	}
	if second.PublicKeyB64() != first.PublicKeyB64() {
		t.Errorf("keypair changed across boots")
	}
}

func TestLoadOrCreateIdentityOverride(t *testing.T) {
	home := t.TempDir()

	first, err := LoadOrCreateIdentity(home, "")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	pinned, err := LoadOrCreateIdentity(home, "srv_pinned")
	if err != nil {
		t.Fatalf("pinned load: %v", err)
	}
	if pinned.ServerID != "srv_pinned" {
		t.Errorf("ServerID = %q, want srv_pinned", pinned.ServerID)
	}
	if pinned.PublicKeyB64() != first.PublicKeyB64() {
		t.Errorf("override regenerated keypair")
	}

	// The override sticks without the env on the next boot.
	again, err := LoadOrCreateIdentity(home, "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ServerID != "srv_pinned" {
		t.Errorf("ServerID = %q after reload, want srv_pinned", again.ServerID)
	}
}

func TestIdentityWriteLeavesNoTemp(t *testing.T) {
	home := t.TempDir()
	if _, err := LoadOrCreateIdentity(home, ""); err != nil {
		t.Fatalf("load: %v", err)
	}
	entries, err := os.ReadDir(home)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
