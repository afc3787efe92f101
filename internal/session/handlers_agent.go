package session

import (
	"context"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

func (r *Router) createAgent(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CreateAgentRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, err := r.svc.Agents.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return protocol.CreateAgentResult{Agent: snap}, nil
}

// resumeAgent serves resume_agent_request and initialize_agent_request:
// both force the provider session to be loaded and return the snapshot.
func (r *Router) resumeAgent(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.AgentRefRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, err := r.svc.Agents.EnsureReady(req.AgentID)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap}, nil
}

func (r *Router) refreshAgent(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.AgentRefRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, timeline, err := r.svc.Agents.Fetch(req.AgentID)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap, Timeline: timeline}, nil
}

func (r *Router) cancelAgent(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.AgentRefRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Agents.Cancel(ctx, req.AgentID)
}

func (r *Router) deleteAgent(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.AgentRefRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Agents.Delete(ctx, req.AgentID)
}

func (r *Router) archiveAgent(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.ArchiveAgentRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}
	snap, err := r.svc.Agents.Archive(req.AgentID, archived)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap}, nil
}

func (r *Router) setAgentMode(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.SetAgentModeRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, err := r.svc.Agents.SetMode(req.AgentID, req.Mode)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap}, nil
}

// sendAgentMessage responds once the run has actually started (or the
// start window lapsed), never when the run finishes.
func (r *Router) sendAgentMessage(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.SendAgentMessageRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	runID, err := r.svc.Agents.SendMessage(ctx, req.AgentID, req.Prompt, req.Images)
	if err != nil {
		return nil, err
	}
	return protocol.SendAgentMessageResult{RunID: runID}, nil
}

func (r *Router) permissionResponse(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.PermissionResponseRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Agents.RespondToPermission(req.AgentID, req)
}

func (r *Router) waitForFinish(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.WaitForFinishRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return r.svc.Agents.WaitForFinish(ctx, req.AgentID, time.Duration(req.TimeoutMs)*time.Millisecond)
}

func (r *Router) fetchAgents(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.FetchAgentsRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	agents := r.svc.Agents.List(req.Labels, req.IncludeArchived)
	if agents == nil {
		agents = []protocol.AgentSnapshot{}
	}
	return protocol.FetchAgentsResult{Agents: agents}, nil
}

func (r *Router) fetchAgent(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.FetchAgentRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, timeline, err := r.svc.Agents.Fetch(req.AgentID)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap, Timeline: timeline}, nil
}

// subscribeAgentUpdates wires a projection stream onto this session. The
// pump forwards upserts/removes until unsubscribe or session close.
func (r *Router) subscribeAgentUpdates(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.SubscribeAgentUpdatesRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	ch, err := r.svc.Agents.Subscribe(req)
	if err != nil {
		return nil, err
	}
	subID := req.SubscriptionID
	s.addCleanup("updates:"+subID, func() { r.svc.Agents.Unsubscribe(subID) })
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for upd := range ch {
			s.pushStream(protocol.MsgAgentUpdate, upd)
		}
	}()
	return nil, nil
}

func (r *Router) unsubscribeAgentUpdates(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.UnsubscribeAgentUpdatesRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if !s.removeCleanup("updates:" + req.SubscriptionID) {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "no subscription " + req.SubscriptionID}
	}
	return nil, nil
}
