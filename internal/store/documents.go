// Package store persists paseo daemon state as JSON documents under
// paseoHome. Every write is temp-file-then-rename so a crash never leaves
// a half-written record, and each document has a single writer at a time.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// documentDir is the shared primitive under the typed stores: one JSON
// file per key inside a directory, atomic writes, per-key serialization.
type documentDir struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDocumentDir(dir string) (*documentDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &documentDir{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// keyLock returns the mutex serializing writes for one document.
func (d *documentDir) keyLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

func (d *documentDir) path(key string) (string, error) {
	name := sanitizeKey(key)
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("store: invalid document key %q", key)
	}
	return filepath.Join(d.dir, name+".json"), nil
}

// write marshals v and replaces the document atomically.
func (d *documentDir) write(key string, v any) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}

	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(d.dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("store: temp for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: replace %s: %w", key, err)
	}
	cleanup = false
	return nil
}

// read unmarshals the document into v. os.ErrNotExist passes through so
// callers can distinguish missing from corrupt.
func (d *documentDir) read(key string, v any) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: parse %s: %w", path, err)
	}
	return nil
}

// remove deletes the document. Missing documents are not an error.
func (d *documentDir) remove(key string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// keys lists the document keys present on disk.
func (d *documentDir) keys() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	return out, nil
}

// sanitizeKey keeps keys filesystem-safe without losing uniqueness for the
// ids paseo generates (uuid-ish, slugs).
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
