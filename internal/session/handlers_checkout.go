package session

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/paseohq/paseo/pkg/protocol"
)

func (r *Router) checkoutStatus(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutStatusRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.Status(ctx, cwd)
}

func (r *Router) checkoutDiff(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutDiffRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	diff, err := r.svc.Worktrees.Diff(ctx, cwd, req.Staged, req.Path)
	if err != nil {
		return nil, err
	}
	return protocol.CheckoutDiffResult{Diff: diff}, nil
}

func (r *Router) checkoutCommit(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutCommitRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.Commit(ctx, cwd, req.Message)
}

func (r *Router) checkoutMerge(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutMergeRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.Merge(ctx, cwd, req.TargetBranch, req.RequireCleanTarget)
}

func (r *Router) checkoutMergeFromBase(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutMergeFromBaseRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.MergeFromBase(ctx, cwd, req.BaseBranch)
}

func (r *Router) checkoutPush(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutPushRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.Push(ctx, cwd)
}

func (r *Router) checkoutPRCreate(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutPRCreateRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.PRCreate(ctx, cwd, req)
}

func (r *Router) checkoutPRStatus(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CheckoutPRStatusRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Worktrees.PRStatus(ctx, cwd)
}

// worktreeList returns tracked worktrees annotated with the agents living
// in each.
func (r *Router) worktreeList(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.WorktreeListRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	worktrees, err := r.svc.Worktrees.List(req.RepoRoot)
	if err != nil {
		return nil, err
	}
	agents := r.svc.Agents.List(nil, true)
	for i := range worktrees {
		for _, snap := range agents {
			if snap.WorktreePath == worktrees[i].Path {
				worktrees[i].AgentIDs = append(worktrees[i].AgentIDs, snap.ID)
			}
		}
	}
	return protocol.WorktreeListResult{Worktrees: worktrees}, nil
}

// worktreeArchive deletes the agents resident in the worktree first, then
// removes the worktree and its branch. Non-owned paths are refused before
// any agent is touched.
func (r *Router) worktreeArchive(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.WorktreeArchiveRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if req.WorktreePath == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "worktreePath is required"}
	}
	if !r.svc.Worktrees.IsOwned(req.WorktreePath) {
		return nil, &protocol.Error{Code: protocol.CheckoutErrNotAllowed, Message: "refusing to archive a worktree paseo does not own: " + req.WorktreePath}
	}

	var removed []string
	for _, snap := range r.svc.Agents.List(nil, true) {
		// An agent is resident when it was placed in the worktree or when
		// its cwd sits anywhere inside it; removal would yank the directory
		// out from under either.
		if snap.WorktreePath != req.WorktreePath && !pathWithin(req.WorktreePath, snap.Cwd) {
			continue
		}
		if err := r.svc.Agents.Delete(ctx, snap.ID); err != nil {
			return nil, err
		}
		removed = append(removed, snap.ID)
	}

	if err := r.svc.Worktrees.Archive(ctx, req.WorktreePath); err != nil {
		return nil, err
	}
	return protocol.WorktreeArchiveResult{RemovedAgents: removed}, nil
}

// pathWithin reports whether p is root or a descendant of root, after
// normalizing both.
func pathWithin(root, p string) bool {
	if root == "" || p == "" {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absP, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absP)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
