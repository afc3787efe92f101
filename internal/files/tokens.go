package files

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paseohq/paseo/pkg/protocol"
)

const tokenTTL = 5 * time.Minute

// TokenVault holds outstanding download tokens: single-use, short-lived,
// each bound to one file path inside one agent cwd.
type TokenVault struct {
	mu     sync.Mutex
	tokens map[string]downloadToken
}

type downloadToken struct {
	path      string
	scope     string // the cwd the token was issued under
	expiresAt time.Time
}

func NewTokenVault() *TokenVault {
	return &TokenVault{tokens: make(map[string]downloadToken)}
}

// Issue mints a token for path. The caller has already confirmed the path
// lies inside scope.
func (v *TokenVault) Issue(path, scope string) (token string, expiresAt time.Time) {
	token = uuid.NewString()
	expiresAt = time.Now().Add(tokenTTL)
	v.mu.Lock()
	v.tokens[token] = downloadToken{path: path, scope: scope, expiresAt: expiresAt}
	v.gcLocked()
	v.mu.Unlock()
	return token, expiresAt
}

// Redeem consumes a token. Expired, unknown, and already-used tokens all
// fail identically.
func (v *TokenVault) Redeem(token string) (path string, err error) {
	v.mu.Lock()
	t, ok := v.tokens[token]
	if ok {
		delete(v.tokens, token)
	}
	v.mu.Unlock()
	if !ok || time.Now().After(t.expiresAt) {
		return "", &protocol.Error{Code: protocol.ErrNotAllowed, Message: "invalid or expired download token"}
	}

	// The file must still resolve inside its issuing scope; a swap to a
	// symlink after issuance invalidates the token.
	if _, rerr := resolve(t.scope, t.path); rerr != nil {
		return "", rerr
	}
	return t.path, nil
}

func (v *TokenVault) gcLocked() {
	now := time.Now()
	for token, t := range v.tokens {
		if now.After(t.expiresAt) {
			delete(v.tokens, token)
		}
	}
}

// ServeDownload redeems a token from the URL and streams the file. Mounted
// at /download/<token> on the daemon mux.
func (v *TokenVault) ServeDownload(w http.ResponseWriter, r *http.Request) {
	token := filepath.Base(r.URL.Path)
	path, err := v.Redeem(token)
	if err != nil {
		http.Error(w, "invalid or expired download token", http.StatusForbidden)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
