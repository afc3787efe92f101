package session

import (
	"context"

	"github.com/paseohq/paseo/pkg/protocol"
)

func (r *Router) setVoiceConversation(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.SetVoiceConversationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Voice.SetActiveConversation(req.ConversationID)
}

func (r *Router) loadVoiceConversation(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.LoadVoiceConversationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return r.svc.Voice.LoadConversation(req.ConversationID)
}

func (r *Router) listVoiceConversations(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	return r.svc.Voice.ListConversations()
}

func (r *Router) deleteVoiceConversation(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.DeleteVoiceConversationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Voice.DeleteConversation(req.ConversationID)
}

func (r *Router) startDictation(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.StartDictationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	res, err := r.svc.Voice.StartDictation(req)
	if err != nil {
		return nil, err
	}
	s.pushStream(protocol.MsgDictationEvent, protocol.DictationEvent{DictationID: res.DictationID, Type: "started"})
	return res, nil
}

func (r *Router) finishDictation(ctx context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.FinishDictationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	res, err := r.svc.Voice.FinishDictation(ctx, req.DictationID)
	if err != nil {
		return nil, err
	}
	s.pushStream(protocol.MsgDictationEvent, protocol.DictationEvent{DictationID: req.DictationID, Type: "finished", Text: res.Text})
	return res, nil
}

func (r *Router) cancelDictation(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.CancelDictationRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if err := r.svc.Voice.CancelDictation(req.DictationID); err != nil {
		return nil, err
	}
	s.pushStream(protocol.MsgDictationEvent, protocol.DictationEvent{DictationID: req.DictationID, Type: "cancelled"})
	return nil, nil
}

// handleRealtimeAudio is fire-and-forget; misrouted chunks are logged.
func (r *Router) handleRealtimeAudio(env protocol.Envelope) {
	var msg protocol.RealtimeAudioChunkMsg
	if err := env.DecodePayload(&msg); err != nil {
		r.logger.Debug("realtime_audio_bad_payload", "error", err)
		return
	}
	r.svc.Voice.RouteRealtimeChunk(msg)
}

// handleDictationAudio is fire-and-forget.
func (r *Router) handleDictationAudio(env protocol.Envelope) {
	var msg protocol.DictationAudioChunkMsg
	if err := env.DecodePayload(&msg); err != nil {
		r.logger.Debug("dictation_audio_bad_payload", "error", err)
		return
	}
	r.svc.Voice.AppendChunk(msg.DictationID, msg.DataB64)
}
