package session

import (
	"context"

	"github.com/paseohq/paseo/pkg/protocol"
)

func (r *Router) listTerminals(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.ListTerminalsRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	terminals := r.svc.Terminals.List(req.Cwd)
	if terminals == nil {
		terminals = []protocol.TerminalInfo{}
	}
	return protocol.ListTerminalsResult{Terminals: terminals}, nil
}

func (r *Router) createTerminal(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.CreateTerminalRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	info, err := r.svc.Terminals.Create(req)
	if err != nil {
		return nil, err
	}
	return protocol.CreateTerminalResult{Terminal: *info}, nil
}

// subscribeTerminal replays the scrollback as the first frame, then pumps
// live output and the final exit onto this session.
func (r *Router) subscribeTerminal(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.SubscribeTerminalRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	subID := "session:" + s.ID()
	out, exit, err := r.svc.Terminals.Subscribe(req.TerminalID, subID)
	if err != nil {
		return nil, err
	}
	terminalID := req.TerminalID
	s.addCleanup("terminal:"+terminalID, func() { r.svc.Terminals.Unsubscribe(terminalID, subID) })
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for frame := range out {
			s.pushStream(protocol.MsgTerminalOutput, frame)
		}
		if ev, ok := <-exit; ok {
			s.pushStream(protocol.MsgTerminalExit, ev)
		}
	}()
	return nil, nil
}

func (r *Router) unsubscribeTerminal(_ context.Context, s *Session, env protocol.Envelope) (any, error) {
	var req protocol.UnsubscribeTerminalRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	if !s.removeCleanup("terminal:" + req.TerminalID) {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "not subscribed to terminal " + req.TerminalID}
	}
	return nil, nil
}

func (r *Router) killTerminal(_ context.Context, _ *Session, env protocol.Envelope) (any, error) {
	var req protocol.KillTerminalRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}
	return nil, r.svc.Terminals.Kill(req.TerminalID)
}

// handleTerminalInput is fire-and-forget: no response, bad input logged.
func (r *Router) handleTerminalInput(env protocol.Envelope) {
	var msg protocol.TerminalInputMsg
	if err := env.DecodePayload(&msg); err != nil {
		r.logger.Debug("terminal_input_bad_payload", "error", err)
		return
	}
	r.svc.Terminals.Input(msg.TerminalID, msg.DataB64)
}
