package session

import (
	"context"

	"github.com/paseohq/paseo/pkg/protocol"
)

func (r *Router) fileExplorer(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.FileExplorerRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.Explore(cwd, req)
}

func (r *Router) fileDownloadToken(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.FileDownloadTokenRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.IssueDownloadToken(cwd, req)
}

func (r *Router) projectIcon(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.ProjectIconRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.ProjectIcon(cwd)
}

func (r *Router) gitRepoInfo(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.GitRepoInfoRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.RepoInfo(ctx, cwd)
}

func (r *Router) gitDiff(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.GitDiffRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.Diff(ctx, cwd, req)
}

func (r *Router) highlightedDiff(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.HighlightedDiffRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	cwd, err := r.agentCwd(req.AgentID)
	if err != nil {
		return nil, err
	}
	return r.svc.Files.HighlightedDiff(ctx, cwd, req)
}
