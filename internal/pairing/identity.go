// Package pairing owns the daemon's long-term identity and the connection
// offer codec clients paste to pair with it.
package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the daemon's stable id plus its long-term keypair.
type Identity struct {
	ServerID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// PublicKeyB64 returns the offer encoding of the public key.
func (id *Identity) PublicKeyB64() string {
	return base64.RawURLEncoding.EncodeToString(id.PublicKey)
}

type identityFile struct {
	ServerID      string    `json:"serverId"`
	PublicKeyB64  string    `json:"publicKeyB64"`
	PrivateKeyB64 string    `json:"privateKeyB64"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IdentityPath returns the identity file location under a state dir.
func IdentityPath(home string) string {
	return filepath.Join(home, "identity.json")
}

// LoadOrCreateIdentity reads the persisted identity, generating and
// persisting a fresh one on first boot. serverIDOverride (PASEO_SERVER_ID)
// pins the id without touching the stored keypair; a new override is
// persisted so later boots agree.
func LoadOrCreateIdentity(home, serverIDOverride string) (*Identity, error) {
	path := IdentityPath(home)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f identityFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		id, err := f.decode()
		if err != nil {
			return nil, err
		}
		if serverIDOverride != "" && serverIDOverride != id.ServerID {
			id.ServerID = serverIDOverride
			if err := writeIdentity(path, id); err != nil {
				return nil, err
			}
		}
		return id, nil
	case os.IsNotExist(err):
		id, err := newIdentity(serverIDOverride)
		if err != nil {
			return nil, err
		}
		if err := writeIdentity(path, id); err != nil {
			return nil, err
		}
		return id, nil
	default:
		return nil, fmt.Errorf("read identity: %w", err)
	}
}

func newIdentity(serverID string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if serverID == "" {
		serverID = NewServerID()
	}
	return &Identity{ServerID: serverID, PublicKey: pub, PrivateKey: priv}, nil
}

// NewServerID mints a daemon id.
func NewServerID() string {
	return "srv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (f identityFile) decode() (*Identity, error) {
	pub, err := base64.RawURLEncoding.DecodeString(f.PublicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity public key invalid")
	}
	priv, err := base64.RawURLEncoding.DecodeString(f.PrivateKeyB64)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity private key invalid")
	}
	if f.ServerID == "" {
		return nil, fmt.Errorf("identity missing serverId")
	}
	return &Identity{ServerID: f.ServerID, PublicKey: pub, PrivateKey: priv}, nil
}

func writeIdentity(path string, id *Identity) error {
	f := identityFile{
		ServerID:      id.ServerID,
		PublicKeyB64:  base64.RawURLEncoding.EncodeToString(id.PublicKey),
		PrivateKeyB64: base64.RawURLEncoding.EncodeToString(id.PrivateKey),
		CreatedAt:     time.Now().UTC(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "identity-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp identity: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename identity: %w", err)
	}
	cleanup = false
	return nil
}
