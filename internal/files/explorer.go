// Package files serves the file explorer, download tokens, project icons,
// and git diff views over an agent's working directory.
package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paseohq/paseo/pkg/protocol"
)

// maxInlineRead caps explorer read responses; larger files go through
// download tokens.
const maxInlineRead = 1 << 20 // 1 MiB

// Service answers file and repo queries scoped to agent cwds.
type Service struct {
	tokens *TokenVault
	logger *slog.Logger
}

func NewService(tokens *TokenVault, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tokens: tokens, logger: logger}
}

// resolve joins rel onto cwd and rejects anything that escapes it after
// symlink resolution.
func resolve(cwd, rel string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		realRoot = cwd
	}
	joined := rel
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(realRoot, rel)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("bad path %q", rel)}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if abs != realRoot && !strings.HasPrefix(abs, realRoot+string(filepath.Separator)) {
		return "", &protocol.Error{Code: protocol.ErrNotAllowed, Message: fmt.Sprintf("path %q escapes the working directory", rel)}
	}
	return abs, nil
}

// Explore handles file_explorer_request for one agent cwd.
func (s *Service) Explore(cwd string, req protocol.FileExplorerRequest) (*protocol.FileExplorerResult, error) {
	path, err := resolve(cwd, req.Path)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case protocol.FileExplorerList, "":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
		}
		result := &protocol.FileExplorerResult{}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			result.Entries = append(result.Entries, protocol.FileEntry{
				Name:    e.Name(),
				IsDir:   e.IsDir(),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
		sort.Slice(result.Entries, func(i, j int) bool {
			a, b := result.Entries[i], result.Entries[j]
			if a.IsDir != b.IsDir {
				return a.IsDir
			}
			return a.Name < b.Name
		})
		return result, nil

	case protocol.FileExplorerRead:
		f, err := os.Open(path)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
		}
		defer f.Close()
		buf := make([]byte, maxInlineRead+1)
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, &protocol.Error{Code: protocol.ErrInternal, Message: err.Error()}
		}
		result := &protocol.FileExplorerResult{}
		if n > maxInlineRead {
			n = maxInlineRead
			result.Truncated = true
		}
		result.ContentB64 = base64.StdEncoding.EncodeToString(buf[:n])
		return result, nil

	default:
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown explorer op %q", req.Op)}
	}
}

// IssueDownloadToken mints a single-use token for one file inside cwd.
func (s *Service) IssueDownloadToken(cwd string, req protocol.FileDownloadTokenRequest) (*protocol.FileDownloadTokenResult, error) {
	path, err := resolve(cwd, req.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("%s is not a downloadable file", req.Path)}
	}
	token, expires := s.tokens.Issue(path, cwd)
	return &protocol.FileDownloadTokenResult{
		Token:     token,
		URL:       "/download/" + token,
		ExpiresAt: expires,
	}, nil
}

// iconCandidates are probed in order for project_icon_request.
var iconCandidates = []struct {
	name string
	mime string
}{
	{"icon.png", "image/png"},
	{"logo.png", "image/png"},
	{".paseo/icon.png", "image/png"},
	{"public/favicon.ico", "image/x-icon"},
	{"favicon.ico", "image/x-icon"},
	{"assets/icon.png", "image/png"},
}

const maxIconBytes = 256 * 1024

// ProjectIcon looks for a conventional icon file. Best effort; a missing
// icon is not an error.
func (s *Service) ProjectIcon(cwd string) (*protocol.ProjectIconResult, error) {
	for _, c := range iconCandidates {
		path, err := resolve(cwd, c.name)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() > maxIconBytes {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return &protocol.ProjectIconResult{
			Found:    true,
			MimeType: c.mime,
			DataB64:  base64.StdEncoding.EncodeToString(data),
		}, nil
	}
	return &protocol.ProjectIconResult{Found: false}, nil
}

// RepoInfo reports whether cwd is in a git repository and its coordinates.
func (s *Service) RepoInfo(ctx context.Context, cwd string) (*protocol.GitRepoInfoResult, error) {
	root, err := gitOut(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil {
		return &protocol.GitRepoInfoResult{IsRepo: false}, nil
	}
	branch, _ := gitOut(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	remote, _ := gitOut(ctx, cwd, "remote", "get-url", "origin")
	return &protocol.GitRepoInfoResult{
		IsRepo: true,
		Root:   root,
		Branch: branch,
		Remote: remote,
	}, nil
}

// Diff returns the raw unified diff for git_diff_request.
func (s *Service) Diff(ctx context.Context, cwd string, req protocol.GitDiffRequest) (*protocol.GitDiffResult, error) {
	args := []string{"diff"}
	if req.Staged {
		args = append(args, "--cached")
	}
	if req.Base != "" {
		args = append(args, req.Base)
	}
	out, err := gitOut(ctx, cwd, args...)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrNotGitRepo, Message: err.Error()}
	}
	return &protocol.GitDiffResult{Diff: out}, nil
}
