package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/pkg/protocol"
)

// permissionGate blocks a session's gated tool call until a client resolves
// it. The manager never resolves a request on its own; an unresolved
// request holds the run until cancelled.
type permissionGate struct {
	m     *Manager
	agent *managedAgent
}

func (g *permissionGate) Request(ctx context.Context, req provider.PermissionRequest) (bool, error) {
	g.agent.mu.Lock()
	ch, ok := g.agent.pending[req.RequestID]
	g.agent.mu.Unlock()
	if !ok {
		// The emit path registers the channel before the session blocks
		// here; a miss means the run is being torn down.
		return false, fmt.Errorf("permission request %s is not registered", req.RequestID)
	}

	select {
	case accepted := <-ch:
		return accepted, nil
	case <-ctx.Done():
		g.agent.mu.Lock()
		delete(g.agent.pending, req.RequestID)
		g.agent.notifyLocked()
		g.agent.mu.Unlock()
		return false, ctx.Err()
	}
}

// RespondToPermission resolves a pending request exactly once. A second
// resolution, or one for an unknown request, is a bad_request.
func (m *Manager) RespondToPermission(id string, req protocol.PermissionResponseRequest) error {
	a, err := m.Resolve(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	ch, ok := a.pending[req.RequestID]
	if !ok {
		a.mu.Unlock()
		return &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("no pending permission request %s", req.RequestID)}
	}
	delete(a.pending, req.RequestID)
	if len(a.pending) == 0 && a.rec.AttentionReason == protocol.AttentionPermission {
		a.rec.RequiresAttention = false
		a.rec.AttentionReason = ""
		a.rec.UpdatedAt = time.Now().UTC()
	}
	agentID := a.rec.ID
	a.notifyLocked()
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	ch <- req.Accept

	m.events.Publish(protocol.AgentEvent{
		Type:    protocol.AgentEventPermissionResolved,
		AgentID: agentID,
		Resolution: &protocol.PermissionOutcome{
			RequestID: req.RequestID,
			Accept:    req.Accept,
		},
	})
	m.updates.PublishUpsert(snap)
	m.logger.Info("permission_resolved", "agent_id", agentID, "request_id", req.RequestID, "accept", req.Accept)
	return nil
}
