package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paseohq/paseo/pkg/protocol"
)

const fallbackCommitMessage = "Update files"

// Status reports the checkout state of cwd.
func (e *Engine) Status(ctx context.Context, cwd string) (*protocol.CheckoutStatusResult, error) {
	res, err := git(ctx, cwd, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	return parseStatus(res.Stdout), nil
}

// parseStatus reads porcelain v1 output with a --branch header line.
func parseStatus(out string) *protocol.CheckoutStatusResult {
	result := &protocol.CheckoutStatusResult{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			parseBranchHeader(line[3:], result)
			continue
		}
		if len(line) < 3 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		// Renames carry "old -> new"; keep the new path.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		switch {
		case x == '?' && y == '?':
			result.Untracked = append(result.Untracked, path)
		default:
			if x != ' ' && x != '?' {
				result.Staged = append(result.Staged, path)
			}
			if y != ' ' && y != '?' {
				result.Unstaged = append(result.Unstaged, path)
			}
		}
		result.Dirty = true
	}
	return result
}

// parseBranchHeader handles "main...origin/main [ahead 2, behind 1]" and
// its detached/unborn variants.
func parseBranchHeader(header string, result *protocol.CheckoutStatusResult) {
	if strings.HasPrefix(header, "No commits yet on ") {
		result.Branch = strings.TrimPrefix(header, "No commits yet on ")
		return
	}
	if strings.HasPrefix(header, "HEAD (no branch)") {
		result.Branch = "HEAD"
		return
	}
	name := header
	if i := strings.Index(name, "..."); i >= 0 {
		name = name[:i]
	} else if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	result.Branch = name

	if i := strings.IndexByte(header, '['); i >= 0 {
		counters := strings.TrimSuffix(header[i+1:], "]")
		for _, part := range strings.Split(counters, ", ") {
			if n, ok := strings.CutPrefix(part, "ahead "); ok {
				result.Ahead, _ = strconv.Atoi(n)
			}
			if n, ok := strings.CutPrefix(part, "behind "); ok {
				result.Behind, _ = strconv.Atoi(n)
			}
		}
	}
}

// Diff returns the unified diff of cwd, optionally staged-only or for one
// path.
func (e *Engine) Diff(ctx context.Context, cwd string, staged bool, path string) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	if path != "" {
		args = append(args, "--", path)
	}
	res, err := git(ctx, cwd, args...)
	if err != nil {
		return "", wrapCheckout(err)
	}
	return res.Stdout, nil
}

// Commit stages everything and commits. An empty message asks the cheap
// model for one, falling back to a fixed message when generation fails.
func (e *Engine) Commit(ctx context.Context, cwd, message string) (*protocol.CheckoutCommitResult, error) {
	if _, err := git(ctx, cwd, "add", "-A"); err != nil {
		return nil, wrapCheckout(err)
	}

	stagedRes, err := git(ctx, cwd, "diff", "--cached", "--stat")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	if strings.TrimSpace(stagedRes.Stdout) == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "nothing to commit"}
	}

	if message == "" {
		message = e.generateCommitMessage(ctx, cwd)
	}

	if _, err := git(ctx, cwd, "commit", "-m", message); err != nil {
		return nil, wrapCheckout(err)
	}
	shaRes, err := git(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	e.logger.Info("checkout_committed", "cwd", cwd, "sha", shaRes.Stdout)
	return &protocol.CheckoutCommitResult{CommitSHA: shaRes.Stdout, Message: message}, nil
}

func (e *Engine) generateCommitMessage(ctx context.Context, cwd string) string {
	if e.summarize == nil {
		return fallbackCommitMessage
	}
	diffRes, err := git(ctx, cwd, "diff", "--cached")
	if err != nil {
		return fallbackCommitMessage
	}
	msg, err := e.summarize(ctx, diffRes.Stdout)
	msg = strings.TrimSpace(msg)
	if err != nil || msg == "" {
		e.logger.Debug("commit_message_generation_failed", "error", err)
		return fallbackCommitMessage
	}
	return msg
}

// Merge merges the cwd's branch into targetBranch. The target must be
// checked out in the repo's main working tree.
func (e *Engine) Merge(ctx context.Context, cwd, targetBranch string, requireCleanTarget bool) (*protocol.CheckoutMergeResult, error) {
	if err := validateRef(targetBranch); err != nil {
		return nil, err
	}
	branchRes, err := git(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	sourceBranch := branchRes.Stdout

	mainRes, err := git(ctx, cwd, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	target := mergeTarget(mainRes.Stdout)

	targetBranchRes, err := git(ctx, target, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	if targetBranchRes.Stdout != targetBranch {
		return nil, &protocol.Error{
			Code:    protocol.CheckoutErrNotAllowed,
			Message: fmt.Sprintf("target working tree is on %s, not %s", targetBranchRes.Stdout, targetBranch),
		}
	}
	if requireCleanTarget {
		statusRes, err := git(ctx, target, "status", "--porcelain")
		if err != nil {
			return nil, wrapCheckout(err)
		}
		if strings.TrimSpace(statusRes.Stdout) != "" {
			return nil, &protocol.Error{Code: protocol.CheckoutErrNotAllowed, Message: "target working tree is dirty"}
		}
	}

	if err := e.mergeInto(ctx, target, sourceBranch); err != nil {
		return nil, err
	}
	shaRes, _ := git(ctx, target, "rev-parse", "HEAD")
	e.logger.Info("checkout_merged", "source", sourceBranch, "target", targetBranch)
	return &protocol.CheckoutMergeResult{MergedInto: targetBranch, CommitSHA: shaRes.Stdout}, nil
}

// MergeFromBase merges the base branch into the worktree's own branch.
func (e *Engine) MergeFromBase(ctx context.Context, cwd, baseBranch string) (*protocol.CheckoutMergeResult, error) {
	if baseBranch == "" {
		if e.track != nil {
			if info, err := e.track.Load(cwd); err == nil {
				baseBranch = info.BaseBranch
			}
		}
	}
	if baseBranch == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "no base branch known for this checkout"}
	}
	if err := validateRef(baseBranch); err != nil {
		return nil, err
	}
	if err := e.mergeInto(ctx, cwd, baseBranch); err != nil {
		return nil, err
	}
	shaRes, _ := git(ctx, cwd, "rev-parse", "HEAD")
	branchRes, _ := git(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	return &protocol.CheckoutMergeResult{MergedInto: branchRes.Stdout, CommitSHA: shaRes.Stdout}, nil
}

// mergeInto merges ref into the checkout at dir, converting a conflicted
// merge into a structured MERGE_CONFLICT after aborting it.
func (e *Engine) mergeInto(ctx context.Context, dir, ref string) error {
	if _, err := git(ctx, dir, "merge", "--no-edit", ref); err != nil {
		conflictRes, cerr := git(ctx, dir, "diff", "--name-only", "--diff-filter=U")
		if cerr == nil && strings.TrimSpace(conflictRes.Stdout) != "" {
			conflicts := strings.Split(strings.TrimSpace(conflictRes.Stdout), "\n")
			if _, aerr := git(ctx, dir, "merge", "--abort"); aerr != nil {
				e.logger.Warn("merge_abort_failed", "dir", dir, "error", aerr)
			}
			return &protocol.Error{
				Code:      protocol.CheckoutErrMergeConflict,
				Message:   fmt.Sprintf("merging %s produced %d conflicts", ref, len(conflicts)),
				Conflicts: conflicts,
			}
		}
		return wrapCheckout(err)
	}
	return nil
}

// Push pushes the current branch, setting the upstream on first push.
func (e *Engine) Push(ctx context.Context, cwd string) (*protocol.CheckoutPushResult, error) {
	branchRes, err := git(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	branch := branchRes.Stdout

	if _, err := git(ctx, cwd, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}"); err != nil {
		if _, err := git(ctx, cwd, "push", "--set-upstream", "origin", branch); err != nil {
			return nil, wrapCheckout(err)
		}
	} else if _, err := git(ctx, cwd, "push"); err != nil {
		return nil, wrapCheckout(err)
	}
	e.logger.Info("checkout_pushed", "cwd", cwd, "branch", branch)
	return &protocol.CheckoutPushResult{Remote: "origin", Branch: branch}, nil
}

// PRCreate opens a pull request with gh. Dirty checkouts are refused; the
// engine never commits on the caller's behalf here.
func (e *Engine) PRCreate(ctx context.Context, cwd string, req protocol.CheckoutPRCreateRequest) (*protocol.CheckoutPRCreateResult, error) {
	statusRes, err := git(ctx, cwd, "status", "--porcelain")
	if err != nil {
		return nil, wrapCheckout(err)
	}
	if strings.TrimSpace(statusRes.Stdout) != "" {
		return nil, &protocol.Error{Code: protocol.CheckoutErrNotAllowed, Message: "checkout has uncommitted changes; commit before opening a PR"}
	}
	if _, err := e.Push(ctx, cwd); err != nil {
		return nil, err
	}

	args := []string{"pr", "create"}
	if req.Title != "" {
		args = append(args, "--title", req.Title, "--body", req.Body)
	} else {
		args = append(args, "--fill")
	}
	if req.Draft {
		args = append(args, "--draft")
	}
	res, err := run(ctx, cwd, "gh", args...)
	if err != nil {
		return nil, wrapCheckout(err)
	}

	url := lastLine(res.Stdout)
	result := &protocol.CheckoutPRCreateResult{URL: url}
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		result.Number, _ = strconv.Atoi(url[i+1:])
	}
	e.logger.Info("pr_created", "cwd", cwd, "url", url)
	return result, nil
}

// PRStatus reports the PR for the current branch, if any.
func (e *Engine) PRStatus(ctx context.Context, cwd string) (*protocol.CheckoutPRStatusResult, error) {
	res, err := run(ctx, cwd, "gh", "pr", "view", "--json", "number,state,url,statusCheckRollup")
	if err != nil {
		if strings.Contains(res.Stderr, "no pull requests found") {
			return &protocol.CheckoutPRStatusResult{Exists: false}, nil
		}
		return nil, wrapCheckout(err)
	}

	var view struct {
		Number            int         `json:"number"`
		State             string      `json:"state"`
		URL               string      `json:"url"`
		StatusCheckRollup []checkItem `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &view); err != nil {
		return nil, &protocol.Error{Code: protocol.CheckoutErrUnknown, Message: "parse gh output: " + err.Error()}
	}

	return &protocol.CheckoutPRStatusResult{
		Exists: true,
		Number: view.Number,
		State:  strings.ToLower(view.State),
		URL:    view.URL,
		Checks: summarizeChecks(view.StatusCheckRollup),
	}, nil
}

type checkItem struct {
	Conclusion string `json:"conclusion"`
	Status     string `json:"status"`
}

func summarizeChecks(checks []checkItem) string {
	if len(checks) == 0 {
		return ""
	}
	out := "passing"
	for _, c := range checks {
		switch {
		case c.Conclusion == "FAILURE" || c.Conclusion == "failure":
			return "failing"
		case c.Status != "COMPLETED" && c.Status != "completed":
			out = "pending"
		}
	}
	return out
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

// mergeTarget maps a --git-common-dir path to the main working tree.
func mergeTarget(gitCommonDir string) string {
	return filepath.Dir(gitCommonDir)
}
