package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/pkg/protocol"
)

// SendMessage submits a prompt. A running agent is implicitly cancelled
// first; the call returns once the new run has actually started (15 s cap).
func (m *Manager) SendMessage(ctx context.Context, id, prompt string, images []protocol.ImageBlock) (string, error) {
	if prompt == "" {
		return "", &protocol.Error{Code: protocol.ErrBadRequest, Message: "prompt is required"}
	}
	a, err := m.Resolve(id)
	if err != nil {
		return "", err
	}
	if err := m.ensureSession(a); err != nil {
		return "", err
	}

	// Normalize attachments before taking any lock; re-encoding can be slow.
	var imgs []provider.ImageContent
	for _, block := range images {
		img, err := provider.NormalizeImage(block.MimeType, block.DataB64)
		if err != nil {
			return "", &protocol.Error{Code: protocol.ErrBadRequest, Message: "bad image: " + err.Error()}
		}
		imgs = append(imgs, img)
	}

	// Implicit cancel: a new prompt displaces the active run after its
	// drain completes.
	for {
		a.mu.Lock()
		if !a.runningLocked() {
			break
		}
		cancel, done := a.runCancel, a.runDone
		a.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return "", &protocol.Error{Code: protocol.ErrCancelled, Message: "cancelled while awaiting run drain"}
		}
	}

	// a.mu held.
	appendUserMessage(a.rec, prompt, len(imgs))
	runID, runCtx, done := a.startRunLocked()
	mode := a.rec.Mode
	agentID := a.rec.ID
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	m.updates.PublishUpsert(snap)

	started := make(chan error, 1)
	go m.runAgent(a, runCtx, done, runID, agentID, prompt, imgs, mode, started)

	select {
	case err := <-started:
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", &protocol.Error{Code: protocol.ErrCancelled, Message: "run cancelled before the provider responded"}
			}
			return "", &protocol.Error{Code: protocol.ErrInternal, Message: "run failed to start: " + err.Error()}
		}
		return runID, nil
	case <-time.After(runStartTimeout):
		return "", &protocol.Error{Code: protocol.ErrTimeout, Message: "run did not start within 15s"}
	case <-ctx.Done():
		return "", &protocol.Error{Code: protocol.ErrCancelled, Message: "cancelled while awaiting run start"}
	}
}

// runAgent is the per-run goroutine: it drives the provider session and
// translates its events into timeline mutations and hub fan-out.
func (m *Manager) runAgent(a *managedAgent, runCtx context.Context, done chan struct{}, runID, agentID, prompt string, images []provider.ImageContent, mode string, started chan<- error) {
	defer close(done)

	m.logger.Info("agent_run_started", "agent_id", agentID, "run_id", runID)
	m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventRunStarted, AgentID: agentID, RunID: runID})

	// The sender's "accepted" response waits for the provider's first event,
	// not for the goroutine launch; a run that dies before producing one
	// resolves the wait with its error instead.
	var startOnce sync.Once
	confirm := func(err error) { startOnce.Do(func() { started <- err }) }

	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	err := sess.Run(runCtx, prompt, images, mode, func(ev provider.Event) {
		if ev.Type != provider.EventError {
			confirm(nil)
		}
		m.handleRunEvent(a, agentID, runID, ev)
	})
	confirm(err)

	endState := protocol.LifecycleIdle
	wire := "idle"
	var lastError string
	switch {
	case runCtx.Err() != nil:
		wire = "cancelled"
	case err != nil:
		endState = protocol.LifecycleError
		wire = "error"
		lastError = err.Error()
	}

	a.mu.Lock()
	var finalized []*protocol.ToolCallItem
	if runCtx.Err() != nil {
		finalized = finalizeOpenToolCalls(a.rec, provider.ReasonCancelled)
	} else if err != nil {
		finalized = finalizeOpenToolCalls(a.rec, "")
	}
	if endState == protocol.LifecycleError {
		appendSystem(a.rec, "run failed: "+lastError, "error")
	}
	a.endRunLocked(endState, lastError)
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	for _, tc := range finalized {
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventToolCallUpdate, AgentID: agentID, RunID: runID, ToolCall: tc})
	}
	m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventRunEnded, AgentID: agentID, RunID: runID, EndState: wire})
	m.updates.PublishUpsert(snap)
	m.logger.Info("agent_run_ended", "agent_id", agentID, "run_id", runID, "end_state", wire)
}

// handleRunEvent applies one provider event. It runs on the run goroutine,
// so events for a single agent are strictly ordered.
func (m *Manager) handleRunEvent(a *managedAgent, agentID, runID string, ev provider.Event) {
	switch ev.Type {
	case provider.EventTextDelta:
		a.mu.Lock()
		if a.curTextID == "" {
			item := appendAssistantText(a.rec, ev.Text)
			a.curTextID = item.ID
		} else {
			for i := range a.rec.Timeline {
				if a.rec.Timeline[i].ID == a.curTextID {
					a.rec.Timeline[i].AssistantText.Text += ev.Text
					break
				}
			}
		}
		a.mu.Unlock()
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventTextDelta, AgentID: agentID, RunID: runID, Text: ev.Text})

	case provider.EventToolCall:
		a.mu.Lock()
		a.curTextID = ""
		item, err := appendToolCall(a.rec, protocol.ToolCallItem{
			CallID: ev.ToolCall.CallID,
			Name:   ev.ToolCall.Name,
			Status: protocol.ToolCallRunning,
			Input:  ev.ToolCall.Input,
		})
		a.mu.Unlock()
		if err != nil {
			m.logger.Warn("timeline_tool_call_rejected", "agent_id", agentID, "error", err)
			return
		}
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventToolCall, AgentID: agentID, RunID: runID, ToolCall: item.ToolCall})

	case provider.EventToolResult:
		a.mu.Lock()
		tc, err := updateToolCall(a.rec, ev.ToolCall.CallID, ev.ToolCall.Status, ev.ToolCall.Output, ev.ToolCall.Error, ev.ToolCall.Reason)
		if err == nil {
			a.toolEventsSincePersist++
			if a.toolEventsSincePersist >= m.cfg.PersistEveryN {
				a.toolEventsSincePersist = 0
				m.persistLocked(a)
			}
		}
		a.mu.Unlock()
		if err != nil {
			m.logger.Warn("timeline_tool_update_rejected", "agent_id", agentID, "error", err)
			return
		}
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventToolCallUpdate, AgentID: agentID, RunID: runID, ToolCall: tc})

	case provider.EventPermissionRequest:
		req := protocol.PermissionRequest{
			AgentID:   agentID,
			RequestID: ev.Permission.RequestID,
			ToolName:  ev.Permission.ToolName,
			CallID:    ev.Permission.CallID,
			Action:    ev.Permission.Action,
			Input:     ev.Permission.Input,
		}
		a.mu.Lock()
		// Registered here, before the gate blocks, so a response can never
		// race the request's registration.
		a.pending[req.RequestID] = make(chan bool, 1)
		appendPermission(a.rec, req)
		a.rec.RequiresAttention = true
		a.rec.AttentionReason = protocol.AttentionPermission
		a.notifyLocked()
		m.persistLocked(a)
		snap := a.snapshotLocked()
		a.mu.Unlock()
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventPermissionRequested, AgentID: agentID, RunID: runID, Permission: &req})
		m.updates.PublishUpsert(snap)

	case provider.EventError:
		var perr *protocol.Error
		if ev.Err != nil {
			perr = &protocol.Error{Code: protocol.ErrInternal, Message: ev.Err.Error()}
		}
		m.events.Publish(protocol.AgentEvent{Type: protocol.AgentEventError, AgentID: agentID, RunID: runID, Error: perr})

	case provider.EventFinish:
		// Lifecycle settles in runAgent once Run returns.
	}
}
