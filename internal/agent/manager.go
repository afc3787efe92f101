// Package agent hosts the managed agents of one daemon: lifecycle,
// timeline, permission protocol, event fan-out, and persistence.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/internal/tools"
	"github.com/paseohq/paseo/pkg/protocol"
)

const (
	runStartTimeout      = 15 * time.Second
	defaultFinishTimeout = 10 * time.Minute
	defaultPersistEveryN = 8
	setupToolName        = "paseo_worktree_setup"
)

// SetupStep is one setup command's outcome, streamed into the timeline
// while a fresh worktree is prepared.
type SetupStep struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Worktrees is the slice of the worktree engine the manager needs for
// create-with-worktree. Nil disables worktree placement.
type Worktrees interface {
	Create(ctx context.Context, repoDir string, spec protocol.WorktreeSpec) (*protocol.WorktreeInfo, error)
	Setup(ctx context.Context, path string, onStep func(SetupStep)) error
}

// Manager owns every agent of the daemon. Runs across agents are fully
// concurrent; per agent there is at most one active run.
type Manager struct {
	cfg       config.AgentsConfig
	store     *store.AgentStore
	providers *provider.Registry
	worktrees Worktrees
	logger    *slog.Logger

	// extraTools joins every agent's toolbox (MCP bridges, typically).
	extraTools func() []tools.Tool

	events  *Hub
	updates *UpdateHub

	mu     sync.Mutex
	agents map[string]*managedAgent

	initGroup singleflight.Group
}

// Options carries the optional manager collaborators.
type Options struct {
	Worktrees  Worktrees
	ExtraTools func() []tools.Tool
	Logger     *slog.Logger
}

// NewManager loads every persisted agent and readies the manager. Provider
// sessions are resumed lazily on first use.
func NewManager(cfg config.AgentsConfig, st *store.AgentStore, providers *provider.Registry, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persistEveryN := cfg.PersistEveryN
	if persistEveryN <= 0 {
		persistEveryN = defaultPersistEveryN
	}
	cfg.PersistEveryN = persistEveryN

	m := &Manager{
		cfg:        cfg,
		store:      st,
		providers:  providers,
		worktrees:  opts.Worktrees,
		logger:     logger,
		extraTools: opts.ExtraTools,
		events:     NewHub(cfg.SubscriberQueue, logger),
		updates:    NewUpdateHub(cfg.SubscriberQueue, logger),
		agents:     make(map[string]*managedAgent),
	}

	recs, err := st.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("agent: load records: %w", err)
	}
	for _, rec := range recs {
		if rec.Lifecycle == protocol.LifecycleRunning {
			// The daemon died mid-run; the run is gone.
			rec.Lifecycle = protocol.LifecycleIdle
			finalizeOpenToolCalls(rec, provider.ReasonCancelled)
			appendSystem(rec, "run interrupted by daemon restart", "error")
			if err := st.Save(rec); err != nil {
				logger.Warn("agent_record_settle_failed", "agent_id", rec.ID, "error", err)
			}
		}
		m.agents[rec.ID] = newManagedAgent(rec)
	}
	logger.Info("agent_manager_loaded", "agents", len(recs))
	return m, nil
}

// Events exposes the per-agent event hub for session subscriptions.
func (m *Manager) Events() *Hub { return m.events }

// Updates exposes the agent-list update hub.
func (m *Manager) Updates() *UpdateHub { return m.updates }

// Create builds a new agent, optionally inside a fresh worktree, persists
// it, and starts the first run when a prompt is given.
func (m *Manager) Create(ctx context.Context, req protocol.CreateAgentRequest) (protocol.AgentSnapshot, error) {
	if req.Cwd == "" {
		return protocol.AgentSnapshot{}, &protocol.Error{Code: protocol.ErrBadRequest, Message: "cwd is required"}
	}
	mode := req.Mode
	if mode == "" {
		mode = protocol.ModeAsk
	}
	if mode != protocol.ModeAuto && mode != protocol.ModeAsk && mode != protocol.ModeReadonly {
		return protocol.AgentSnapshot{}, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown mode %q", mode)}
	}
	providerName := req.Provider
	if providerName == "" {
		providerName = m.cfg.DefaultProvider
	}
	if _, err := m.providers.Get(providerName); err != nil {
		return protocol.AgentSnapshot{}, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
	}

	now := time.Now().UTC()
	rec := &store.AgentRecord{
		ID:        "ag_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Provider:  providerName,
		Model:     req.Model,
		Cwd:       req.Cwd,
		Mode:      mode,
		Labels:    req.Labels,
		Lifecycle: protocol.LifecycleIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Worktree != nil {
		if m.worktrees == nil {
			return protocol.AgentSnapshot{}, &protocol.Error{Code: protocol.ErrBadRequest, Message: "worktree placement is not available"}
		}
		info, err := m.worktrees.Create(ctx, req.Cwd, *req.Worktree)
		if err != nil {
			return protocol.AgentSnapshot{}, err
		}
		rec.Cwd = info.Path
		rec.BranchName = info.Branch
		rec.WorktreePath = info.Path
	}

	a := newManagedAgent(rec)
	m.mu.Lock()
	m.agents[rec.ID] = a
	m.mu.Unlock()

	if err := m.store.Save(rec); err != nil {
		return protocol.AgentSnapshot{}, fmt.Errorf("agent: persist new agent: %w", err)
	}

	a.mu.Lock()
	snap := a.snapshotLocked()
	a.mu.Unlock()
	m.updates.PublishUpsert(snap)
	m.logger.Info("agent_created", "agent_id", rec.ID, "provider", rec.Provider, "cwd", rec.Cwd, "mode", rec.Mode)

	if req.Worktree != nil && req.Worktree.RunSetup {
		m.runWorktreeSetup(a)
	}

	if req.Prompt != "" {
		if _, err := m.SendMessage(ctx, rec.ID, req.Prompt, req.Images); err != nil {
			return snap, err
		}
		// Title and branch name come from the cheap model, detached from
		// both the request and the run.
		go m.generateMetadata(rec.ID, req.Prompt)
	}

	a.mu.Lock()
	snap = a.snapshotLocked()
	a.mu.Unlock()
	return snap, nil
}

// runWorktreeSetup executes the configured setup commands, reported as one
// tool_call item moving running -> completed|failed.
func (m *Manager) runWorktreeSetup(a *managedAgent) {
	callID := "setup_" + uuid.NewString()

	a.mu.Lock()
	item, err := appendToolCall(a.rec, protocol.ToolCallItem{
		CallID: callID,
		Name:   setupToolName,
		Status: protocol.ToolCallRunning,
	})
	path := a.rec.WorktreePath
	agentID := a.rec.ID
	a.mu.Unlock()
	if err != nil {
		m.logger.Warn("worktree_setup_item_failed", "agent_id", agentID, "error", err)
		return
	}
	m.events.Publish(protocol.AgentEvent{
		Type: protocol.AgentEventToolCall, AgentID: agentID, ToolCall: item.ToolCall,
	})

	var transcript []SetupStep
	setupErr := m.worktrees.Setup(context.Background(), path, func(step SetupStep) {
		transcript = append(transcript, step)
	})

	output, _ := json.Marshal(transcript)
	status := protocol.ToolCallCompleted
	errText := ""
	if setupErr != nil {
		status = protocol.ToolCallFailed
		errText = setupErr.Error()
	}

	a.mu.Lock()
	tc, uerr := updateToolCall(a.rec, callID, status, string(output), errText, "")
	if uerr == nil {
		m.persistLocked(a)
	}
	a.mu.Unlock()
	if uerr != nil {
		m.logger.Warn("worktree_setup_update_failed", "agent_id", agentID, "error", uerr)
		return
	}
	m.events.Publish(protocol.AgentEvent{
		Type: protocol.AgentEventToolCallUpdate, AgentID: agentID, ToolCall: tc,
	})
	if setupErr != nil {
		m.logger.Warn("worktree_setup_failed", "agent_id", agentID, "error", setupErr)
	}
}

// get returns the managed agent for an exact id.
func (m *Manager) get(id string) (*managedAgent, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	m.mu.Unlock()
	if !ok {
		return nil, &protocol.Error{Code: protocol.ErrAgentNotFound, Message: fmt.Sprintf("no agent %s", id)}
	}
	return a, nil
}

// ensureSession lazily resumes the provider session. Concurrent callers
// for the same agent share one resume through the singleflight group.
func (m *Manager) ensureSession(a *managedAgent) error {
	a.mu.Lock()
	id := a.rec.ID
	ready := a.session != nil
	a.mu.Unlock()
	if ready {
		return nil
	}

	_, err, _ := m.initGroup.Do(id, func() (interface{}, error) {
		a.mu.Lock()
		if a.session != nil {
			a.mu.Unlock()
			return nil, nil
		}
		rec := a.rec
		a.mu.Unlock()

		p, err := m.providers.Get(rec.Provider)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: err.Error()}
		}
		tb := tools.NewToolbox(rec.Cwd)
		if m.extraTools != nil {
			for _, t := range m.extraTools() {
				tb.Register(t)
			}
		}
		sess, err := provider.ResumeSession(provider.SessionConfig{
			AgentID:       rec.ID,
			Provider:      p,
			Model:         rec.Model,
			MaxTokens:     m.cfg.MaxTokens,
			MaxIterations: m.cfg.MaxToolIterations,
			Toolbox:       tb,
			Gate:          &permissionGate{m: m, agent: a},
			Logger:        m.logger,
		}, rec.Persistence)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.ErrInternal, Message: err.Error()}
		}

		a.mu.Lock()
		a.session = sess
		a.toolbox = tb
		a.mu.Unlock()
		m.logger.Debug("agent_session_resumed", "agent_id", rec.ID)
		return nil, nil
	})
	return err
}

// EnsureReady resolves and initializes an agent (resume_agent_request,
// initialize_agent_request).
func (m *Manager) EnsureReady(id string) (protocol.AgentSnapshot, error) {
	a, err := m.Resolve(id)
	if err != nil {
		return protocol.AgentSnapshot{}, err
	}
	if err := m.ensureSession(a); err != nil {
		return protocol.AgentSnapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(), nil
}

// Fetch resolves an identifier and returns the snapshot plus timeline.
func (m *Manager) Fetch(identifier string) (protocol.AgentSnapshot, []protocol.TimelineItem, error) {
	a, err := m.Resolve(identifier)
	if err != nil {
		return protocol.AgentSnapshot{}, nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	timeline := make([]protocol.TimelineItem, len(a.rec.Timeline))
	copy(timeline, a.rec.Timeline)
	return a.snapshotLocked(), timeline, nil
}

// List returns snapshots matching a label filter, sorted newest first.
func (m *Manager) List(labels map[string]string, includeArchived bool) []protocol.AgentSnapshot {
	m.mu.Lock()
	agents := make([]*managedAgent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	var out []protocol.AgentSnapshot
	for _, a := range agents {
		a.mu.Lock()
		snap := a.snapshotLocked()
		a.mu.Unlock()
		if snap.Archived && !includeArchived {
			continue
		}
		if !labelsMatch(labels, snap.Labels) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Subscribe wires an update subscription, optionally replaying the current
// matching set as initial upserts.
func (m *Manager) Subscribe(req protocol.SubscribeAgentUpdatesRequest) (<-chan protocol.AgentUpdate, error) {
	if req.SubscriptionID == "" {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "subscriptionId is required"}
	}
	var replay []protocol.AgentSnapshot
	if req.Replay {
		replay = m.List(req.Labels, req.IncludeArchived)
	}
	return m.updates.Subscribe(req, replay), nil
}

func (m *Manager) Unsubscribe(subID string) { m.updates.Unsubscribe(subID) }

// Cancel stops the active run, if any, and waits for the drain.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	a, err := m.Resolve(id)
	if err != nil {
		return err
	}
	return m.cancelRun(ctx, a)
}

func (m *Manager) cancelRun(ctx context.Context, a *managedAgent) error {
	a.mu.Lock()
	cancel := a.runCancel
	done := a.runDone
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return &protocol.Error{Code: protocol.ErrCancelled, Message: "cancelled while awaiting run drain"}
	}
}

// Delete cancels any run and removes the agent and its record. The store
// barrier keeps racing persistence hooks from resurrecting it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, err := m.Resolve(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	agentID := a.rec.ID
	a.mu.Unlock()

	if err := m.cancelRun(ctx, a); err != nil {
		return err
	}

	remove := m.store.BeginDelete(agentID)
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
	if err := remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("agent: delete record: %w", err)
	}
	m.updates.PublishRemove(agentID)
	m.logger.Info("agent_deleted", "agent_id", agentID)
	return nil
}

// Archive flips the archived flag.
func (m *Manager) Archive(id string, archived bool) (protocol.AgentSnapshot, error) {
	a, err := m.Resolve(id)
	if err != nil {
		return protocol.AgentSnapshot{}, err
	}
	a.mu.Lock()
	a.rec.Archived = archived
	a.rec.UpdatedAt = time.Now().UTC()
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	m.updates.PublishUpsert(snap)
	return snap, nil
}

// SetMode changes the permission mode, effective from the next tool call.
func (m *Manager) SetMode(id, mode string) (protocol.AgentSnapshot, error) {
	if mode != protocol.ModeAuto && mode != protocol.ModeAsk && mode != protocol.ModeReadonly {
		return protocol.AgentSnapshot{}, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("unknown mode %q", mode)}
	}
	a, err := m.Resolve(id)
	if err != nil {
		return protocol.AgentSnapshot{}, err
	}
	a.mu.Lock()
	a.rec.Mode = mode
	a.rec.UpdatedAt = time.Now().UTC()
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	m.updates.PublishUpsert(snap)
	return snap, nil
}

// ClearAttention resets the attention flag (clear_agent_attention).
func (m *Manager) ClearAttention(id string) (protocol.AgentSnapshot, error) {
	a, err := m.Resolve(id)
	if err != nil {
		return protocol.AgentSnapshot{}, err
	}
	a.mu.Lock()
	a.rec.RequiresAttention = false
	a.rec.AttentionReason = ""
	a.rec.UpdatedAt = time.Now().UTC()
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	m.updates.PublishUpsert(snap)
	return snap, nil
}

// WaitForFinish blocks until the agent reaches a terminal waiting state:
// idle, error, or blocked on a permission; a timeout reports "timeout".
func (m *Manager) WaitForFinish(ctx context.Context, id string, timeout time.Duration) (protocol.WaitForFinishResult, error) {
	a, err := m.Resolve(id)
	if err != nil {
		return protocol.WaitForFinishResult{}, err
	}
	if timeout <= 0 {
		timeout = defaultFinishTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		a.mu.Lock()
		state := ""
		switch {
		case len(a.pending) > 0:
			state = "permission"
		case a.rec.Lifecycle == protocol.LifecycleError:
			state = protocol.LifecycleError
		case !a.runningLocked():
			state = protocol.LifecycleIdle
		}
		lastError := a.rec.LastError
		wait := a.stateCh
		a.mu.Unlock()

		if state != "" {
			return protocol.WaitForFinishResult{Status: state, LastError: lastError}, nil
		}
		select {
		case <-wait:
		case <-deadline.C:
			return protocol.WaitForFinishResult{Status: "timeout"}, nil
		case <-ctx.Done():
			return protocol.WaitForFinishResult{}, &protocol.Error{Code: protocol.ErrCancelled, Message: "wait cancelled"}
		}
	}
}

// persistLocked schedules a save of the current record state. Caller holds
// a.mu; the disk write happens on a drainer goroutine so run callbacks never
// block on storage. Back-to-back schedules coalesce into the latest clone.
func (m *Manager) persistLocked(a *managedAgent) {
	if a.session != nil {
		if handle, err := a.session.Handle(); err == nil {
			a.rec.Persistence = handle
		} else {
			m.logger.Warn("agent_handle_failed", "agent_id", a.rec.ID, "error", err)
		}
	}
	rec := cloneRecord(a.rec)

	a.persistMu.Lock()
	a.persistNext = rec
	if a.persistBusy {
		a.persistMu.Unlock()
		return
	}
	a.persistBusy = true
	a.persistMu.Unlock()
	go m.drainPersist(a)
}

// drainPersist writes parked clones until none remain. One drainer runs per
// agent at a time, so saves stay ordered.
func (m *Manager) drainPersist(a *managedAgent) {
	for {
		a.persistMu.Lock()
		rec := a.persistNext
		a.persistNext = nil
		if rec == nil {
			a.persistBusy = false
			a.persistMu.Unlock()
			return
		}
		a.persistMu.Unlock()

		if err := m.store.Save(rec); err != nil {
			m.logger.Warn("agent_persist_failed", "agent_id", rec.ID, "error", err)
		}
	}
}

// cloneRecord copies a record deeply enough that later in-place timeline
// mutation (delta appends, tool-call status flips) cannot race the write.
// RawMessage payloads are reassigned wholesale, never edited, so the byte
// slices can be shared.
func cloneRecord(rec *store.AgentRecord) *store.AgentRecord {
	out := *rec
	if rec.Labels != nil {
		out.Labels = make(map[string]string, len(rec.Labels))
		for k, v := range rec.Labels {
			out.Labels[k] = v
		}
	}
	out.Timeline = make([]protocol.TimelineItem, len(rec.Timeline))
	for i, item := range rec.Timeline {
		if item.UserMessage != nil {
			v := *item.UserMessage
			item.UserMessage = &v
		}
		if item.AssistantText != nil {
			v := *item.AssistantText
			item.AssistantText = &v
		}
		if item.ToolCall != nil {
			v := *item.ToolCall
			item.ToolCall = &v
		}
		if item.Permission != nil {
			v := *item.Permission
			item.Permission = &v
		}
		if item.Artifact != nil {
			v := *item.Artifact
			item.Artifact = &v
		}
		if item.System != nil {
			v := *item.System
			item.System = &v
		}
		out.Timeline[i] = item
	}
	return &out
}
