package protocol

import "time"

// File explorer ops.
const (
	FileExplorerList = "list"
	FileExplorerRead = "read"
)

// FileExplorerRequest paths are relative to the agent's cwd; requests that
// escape it fail with not_allowed.
type FileExplorerRequest struct {
	AgentID string `json:"agentId"`
	Op      string `json:"op"`
	Path    string `json:"path,omitempty"`
}

type FileEntry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modTime"`
}

type FileExplorerResult struct {
	Entries   []FileEntry `json:"entries,omitempty"`   // list
	ContentB64 string     `json:"contentB64,omitempty"` // read
	Truncated bool        `json:"truncated,omitempty"`
}

type FileDownloadTokenRequest struct {
	AgentID string `json:"agentId"`
	Path    string `json:"path"`
}

type FileDownloadTokenResult struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ProjectIconRequest struct {
	AgentID string `json:"agentId"`
}

type ProjectIconResult struct {
	Found    bool   `json:"found"`
	MimeType string `json:"mimeType,omitempty"`
	DataB64  string `json:"dataB64,omitempty"`
}

type GitRepoInfoRequest struct {
	AgentID string `json:"agentId"`
}

type GitRepoInfoResult struct {
	IsRepo bool   `json:"isRepo"`
	Root   string `json:"root,omitempty"`
	Branch string `json:"branch,omitempty"`
	Remote string `json:"remote,omitempty"`
}

type GitDiffRequest struct {
	AgentID string `json:"agentId"`
	Base    string `json:"base,omitempty"`
	Staged  bool   `json:"staged,omitempty"`
}

type GitDiffResult struct {
	Diff string `json:"diff"`
}

type HighlightedDiffRequest struct {
	AgentID string `json:"agentId"`
	Base    string `json:"base,omitempty"`
}

type HighlightedFile struct {
	Path      string `json:"path"`
	Language  string `json:"language,omitempty"`
	HTML      string `json:"html"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type HighlightedDiffResult struct {
	Files []HighlightedFile `json:"files"`
}
