package dialer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paseohq/paseo/internal/pairing"
)

// ErrHostNotFound is returned when no stored profile matches an id.
var ErrHostNotFound = errors.New("dialer: host not found")

// Registry persists host profiles under <home>/hosts/<serverId>.json and
// per-host preferences in <home>/preferences.json. All writes are atomic
// temp-file renames so a crash never leaves a torn document.
type Registry struct {
	home   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewRegistry opens (lazily) the profile store rooted at home.
func NewRegistry(home string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{home: home, logger: logger}
}

func (r *Registry) hostsDir() string {
	return filepath.Join(r.home, "hosts")
}

func (r *Registry) profilePath(serverID string) string {
	return filepath.Join(r.hostsDir(), serverID+".json")
}

func (r *Registry) prefsPath() string {
	return filepath.Join(r.home, "preferences.json")
}

// Load reads the profile stored under exactly serverID.
func (r *Registry) Load(serverID string) (*HostProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(serverID)
}

func (r *Registry) loadLocked(serverID string) (*HostProfile, error) {
	data, err := os.ReadFile(r.profilePath(serverID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("read host profile: %w", err)
	}
	var p HostProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse host profile %s: %w", serverID, err)
	}
	return &p, nil
}

// Resolve finds a profile by current id first, then by legacy id.
func (r *Registry) Resolve(id string) (*HostProfile, error) {
	p, err := r.Load(id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrHostNotFound) {
		return nil, err
	}
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.knownAs(id) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHostNotFound, id)
}

// List returns every readable profile, sorted by label then id. Corrupt
// files are skipped with a warning so one bad document never hides the rest.
func (r *Registry) List() ([]*HostProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.hostsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hosts dir: %w", err)
	}

	var out []*HostProfile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		p, err := r.loadLocked(id)
		if err != nil {
			r.logger.Warn("skipping unreadable host profile", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ServerID < out[j].ServerID
	})
	return out, nil
}

// Save persists the profile, stamping UpdatedAt (and CreatedAt on first
// write).
func (r *Registry) Save(p *HostProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(p)
}

func (r *Registry) saveLocked(p *HostProfile) error {
	if p.ServerID == "" {
		return fmt.Errorf("host profile missing serverId")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return writeJSONAtomic(r.profilePath(p.ServerID), p, 0o644)
}

// Delete removes the profile and its preferences entry.
func (r *Registry) Delete(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.profilePath(serverID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete host profile: %w", err)
	}
	prefs, err := r.loadPrefsLocked()
	if err != nil {
		return err
	}
	if _, ok := prefs[serverID]; ok {
		delete(prefs, serverID)
		return r.savePrefsLocked(prefs)
	}
	return nil
}

// MergeOffer folds a decoded pairing offer into the profile store. A new
// relay candidate comes from the offer itself; directEndpoint, when the
// client can see the daemon's listen address, adds a direct candidate. An
// existing profile keeps its candidates and gains the missing ones.
func (r *Registry) MergeOffer(offer pairing.ConnectionOfferV2, directEndpoint, label string) (*HostProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.loadLocked(offer.ServerID)
	if errors.Is(err, ErrHostNotFound) {
		p = &HostProfile{ServerID: offer.ServerID}
	} else if err != nil {
		return nil, err
	}

	p.DaemonPublicKeyB64 = offer.DaemonPublicKeyB64
	if label != "" {
		p.Label = label
	}
	if directEndpoint != "" && !p.hasEndpoint(ConnDirect, directEndpoint) {
		p.Connections = append(p.Connections, NewConnection(ConnDirect, directEndpoint))
	}
	if !p.hasEndpoint(ConnRelay, offer.Relay.Endpoint) {
		p.Connections = append(p.Connections, NewConnection(ConnRelay, offer.Relay.Endpoint))
	}

	if err := r.saveLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Rekey moves a profile under the id the daemon reported. The old id is
// appended to metadata.legacyIds, the old document is removed, and the
// preferences entry follows to the new key.
func (r *Registry) Rekey(oldID, newID string) (*HostProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldID == newID {
		return r.loadLocked(oldID)
	}
	p, err := r.loadLocked(oldID)
	if err != nil {
		return nil, err
	}

	p.ServerID = newID
	if !slices.Contains(p.Metadata.LegacyIDs, oldID) {
		p.Metadata.LegacyIDs = append(p.Metadata.LegacyIDs, oldID)
	}
	if err := r.saveLocked(p); err != nil {
		return nil, err
	}

	prefs, err := r.loadPrefsLocked()
	if err != nil {
		return nil, err
	}
	if entry, ok := prefs[oldID]; ok {
		entry.ServerID = newID
		prefs[newID] = entry
		delete(prefs, oldID)
		if err := r.savePrefsLocked(prefs); err != nil {
			return nil, err
		}
	}

	if err := os.Remove(r.profilePath(oldID)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove old host profile: %w", err)
	}
	return p, nil
}

// Preferences returns the stored preferences for a host, or an empty entry.
func (r *Registry) Preferences(serverID string) (*HostPreferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefs, err := r.loadPrefsLocked()
	if err != nil {
		return nil, err
	}
	if entry, ok := prefs[serverID]; ok {
		return entry, nil
	}
	return &HostPreferences{ServerID: serverID}, nil
}

// UpdatePreferences applies fn to the host's preferences entry and persists
// the result.
func (r *Registry) UpdatePreferences(serverID string, fn func(*HostPreferences)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefs, err := r.loadPrefsLocked()
	if err != nil {
		return err
	}
	entry, ok := prefs[serverID]
	if !ok {
		entry = &HostPreferences{ServerID: serverID}
		prefs[serverID] = entry
	}
	fn(entry)
	return r.savePrefsLocked(prefs)
}

func (r *Registry) loadPrefsLocked() (map[string]*HostPreferences, error) {
	data, err := os.ReadFile(r.prefsPath())
	if os.IsNotExist(err) {
		return map[string]*HostPreferences{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	prefs := map[string]*HostPreferences{}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}
	return prefs, nil
}

func (r *Registry) savePrefsLocked(prefs map[string]*HostPreferences) error {
	return writeJSONAtomic(r.prefsPath(), prefs, 0o644)
}

// writeJSONAtomic marshals v and renames a synced temp file over path.
func writeJSONAtomic(path string, v any, mode os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	cleanup = false
	return nil
}
