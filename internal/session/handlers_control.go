package session

import (
	"context"
	"sort"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

// restartServer acknowledges first; the restart hook fires after the delay
// so the response reaches the client before the process exits.
func (r *Router) restartServer(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.RestartServerRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if r.svc.Restart == nil {
		return nil, &protocol.Error{Code: protocol.ErrNotAllowed, Message: "daemon is not running supervised"}
	}
	delay := time.Duration(req.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	r.svc.Restart(delay)
	return nil, nil
}

func (r *Router) clientHeartbeat(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var msg protocol.ClientHeartbeatMsg
	if err := env.DecodePayload(&msg); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return protocol.ClientHeartbeatResult{ServerTime: time.Now().UTC()}, nil
}

func (r *Router) registerPushToken(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.RegisterPushTokenRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if req.Token == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "token is required"}
	}
	return nil, r.svc.PushTokens.Register(req.Platform, req.Token)
}

func (r *Router) clearAgentAttention(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.ClearAgentAttentionRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	snap, err := r.svc.Agents.ClearAttention(req.AgentID)
	if err != nil {
		return nil, err
	}
	return protocol.FetchAgentResult{Agent: snap}, nil
}

func (r *Router) listProviderModels(ctx context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.ListProviderModelsRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	byProvider, err := r.svc.Providers.AllModels(ctx, req.Provider)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	var models []protocol.ModelInfo
	for name, list := range byProvider {
		for _, m := range list {
			models = append(models, protocol.ModelInfo{Provider: name, ID: m.ID, Label: m.Label, Cheap: m.Cheap})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].ID < models[j].ID
	})
	return protocol.ListProviderModelsResult{Models: models}, nil
}
