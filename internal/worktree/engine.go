package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

// ownedDirName is the repo-local directory paseo creates its worktrees in.
const ownedDirName = ".paseo/worktrees"

// Summarizer turns a staged diff into a commit message. Wired to the cheap
// model by the daemon; nil falls back to a fixed message.
type Summarizer func(ctx context.Context, diff string) (string, error)

// SetupStep is one setup command's outcome.
type SetupStep struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Engine owns worktree creation and checkout operations.
type Engine struct {
	home      string // paseoHome; home/worktrees is an owned root too
	cfg       config.WorktreesConfig
	track     *store.WorktreeStore
	summarize Summarizer
	logger    *slog.Logger
}

func NewEngine(home string, cfg config.WorktreesConfig, track *store.WorktreeStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{home: home, cfg: cfg, track: track, logger: logger}
}

// SetSummarizer wires commit-message generation.
func (e *Engine) SetSummarizer(fn Summarizer) { e.summarize = fn }

// refPattern accepts the names paseo is willing to pass to git. Everything
// else is rejected before any subprocess sees it.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

func validateRef(name string) error {
	if name == "" {
		return &protocol.Error{Code: protocol.ErrBadRequest, Message: "empty ref name"}
	}
	if !refPattern.MatchString(name) || strings.Contains(name, "..") || strings.Contains(name, "@{") {
		return &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("invalid ref name %q", name)}
	}
	return nil
}

// Create adds a paseo-owned worktree under <repoRoot>/.paseo/worktrees/
// with a fresh branch from the base. The base working tree is never
// touched; in particular nothing is ever stashed.
func (e *Engine) Create(ctx context.Context, repoDir string, spec protocol.WorktreeSpec) (*protocol.WorktreeInfo, error) {
	if err := validateRef(spec.BranchName); err != nil {
		return nil, err
	}
	base := spec.BaseBranch
	if base != "" {
		if err := validateRef(base); err != nil {
			return nil, err
		}
	}
	slug := spec.Slug
	if slug == "" {
		slug = strings.ReplaceAll(spec.BranchName, "/", "-")
	}
	if err := validateRef(slug); err != nil {
		return nil, err
	}

	root, err := e.repoRoot(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	if base == "" {
		res, err := git(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return nil, wrapCheckout(err)
		}
		base = res.Stdout
	}

	// The branch must not exist; creating over an existing one would be a
	// silent takeover.
	if _, err := git(ctx, root, "rev-parse", "--verify", "--quiet", "refs/heads/"+spec.BranchName); err == nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("branch %q already exists", spec.BranchName)}
	}

	path := filepath.Join(root, ownedDirName, slug)
	if _, err := os.Stat(path); err == nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("worktree path %s already exists", path)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("worktree: prepare %s: %w", path, err)
	}

	if _, err := git(ctx, root, "worktree", "add", "-b", spec.BranchName, path, base); err != nil {
		return nil, wrapCheckout(err)
	}

	info := protocol.WorktreeInfo{
		Path:       path,
		Branch:     spec.BranchName,
		BaseBranch: base,
		RepoRoot:   root,
		CreatedAt:  time.Now().UTC(),
	}
	if e.track != nil {
		if err := e.track.Save(info); err != nil {
			e.logger.Warn("worktree_track_failed", "path", path, "error", err)
		}
	}
	e.logger.Info("worktree_created", "path", path, "branch", spec.BranchName, "base", base)
	return &info, nil
}

// Setup runs the configured setup commands sequentially inside the
// worktree. The first failure stops the sequence; the worktree is kept
// unless cleanup-on-failure is configured.
func (e *Engine) Setup(ctx context.Context, path string, onStep func(SetupStep)) error {
	for _, command := range e.cfg.SetupCommands {
		res, err := run(ctx, path, "sh", "-c", command)
		step := SetupStep{
			Command:  command,
			Cwd:      path,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
		if onStep != nil {
			onStep(step)
		}
		if err != nil {
			e.logger.Warn("worktree_setup_command_failed", "path", path, "command", command, "exit_code", res.ExitCode)
			if e.cfg.CleanupOnFailure {
				if cerr := e.remove(context.Background(), path); cerr != nil {
					e.logger.Warn("worktree_cleanup_failed", "path", path, "error", cerr)
				}
			}
			return fmt.Errorf("setup command %q failed: %w", command, err)
		}
	}
	return nil
}

// List reports tracked worktrees, optionally scoped to one repo root.
func (e *Engine) List(repoRoot string) ([]protocol.WorktreeInfo, error) {
	if e.track == nil {
		return nil, nil
	}
	all, err := e.track.All()
	if err != nil {
		return nil, err
	}
	if repoRoot == "" {
		return all, nil
	}
	var out []protocol.WorktreeInfo
	for _, info := range all {
		if info.RepoRoot == repoRoot {
			out = append(out, info)
		}
	}
	return out, nil
}

// IsOwned reports whether path lies inside a paseo-owned worktree root:
// some repo's .paseo/worktrees/ directory or paseoHome/worktrees/.
func (e *Engine) IsOwned(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	norm := filepath.ToSlash(abs)
	if strings.Contains(norm, "/"+ownedDirName+"/") {
		return true
	}
	homeRoot := filepath.ToSlash(filepath.Join(e.home, "worktrees"))
	return strings.HasPrefix(norm, homeRoot+"/")
}

// Archive removes an owned worktree and deletes its branch. Paths outside
// the owned roots are refused; the caller removes resident agents first.
func (e *Engine) Archive(ctx context.Context, path string) error {
	if !e.IsOwned(path) {
		return &protocol.Error{Code: protocol.CheckoutErrNotAllowed, Message: fmt.Sprintf("%s is not a paseo-owned worktree", path)}
	}
	return e.remove(ctx, path)
}

func (e *Engine) remove(ctx context.Context, path string) error {
	branchRes, err := git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return wrapCheckout(err)
	}
	branch := branchRes.Stdout

	mainRes, err := git(ctx, path, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return wrapCheckout(err)
	}
	mainRepo := filepath.Dir(mainRes.Stdout)

	if _, err := git(ctx, mainRepo, "worktree", "remove", "--force", path); err != nil {
		return wrapCheckout(err)
	}
	if branch != "" && branch != "HEAD" {
		if _, err := git(ctx, mainRepo, "branch", "-D", branch); err != nil {
			e.logger.Warn("worktree_branch_delete_failed", "branch", branch, "error", err)
		}
	}
	if e.track != nil {
		if err := e.track.Remove(path); err != nil {
			e.logger.Warn("worktree_untrack_failed", "path", path, "error", err)
		}
	}
	e.logger.Info("worktree_removed", "path", path, "branch", branch)
	return nil
}

func (e *Engine) repoRoot(ctx context.Context, dir string) (string, error) {
	res, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", wrapCheckout(err)
	}
	return res.Stdout, nil
}

// wrapCheckout keeps taxonomy errors as-is and wraps everything else as
// UNKNOWN so clients always see a {code, message} pair.
func wrapCheckout(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*protocol.Error); ok {
		return err
	}
	return &protocol.Error{Code: protocol.CheckoutErrUnknown, Message: err.Error()}
}
