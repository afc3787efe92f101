package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/internal/tools"
	"github.com/paseohq/paseo/pkg/protocol"
)

// managedAgent is the in-memory side of one agent: its record, resumed
// provider session, toolbox, and active-run bookkeeping. All mutable state
// is guarded by mu; fan-out happens after the lock is released.
type managedAgent struct {
	mu  sync.Mutex
	rec *store.AgentRecord

	session *provider.Session
	toolbox *tools.Toolbox

	runID     string
	runCancel context.CancelFunc
	runDone   chan struct{}

	// curTextID is the open assistant_text timeline item collecting deltas
	// for the current round, reset at every tool boundary.
	curTextID string

	pending                map[string]chan bool
	toolEventsSincePersist int

	// Persistence runs off the agent lock: persistLocked clones the record
	// and parks it here; a single drainer goroutine per agent writes the
	// latest clone, coalescing bursts.
	persistMu   sync.Mutex
	persistNext *store.AgentRecord
	persistBusy bool

	// stateCh is closed and replaced on every lifecycle or attention
	// change; waiters re-check after each close.
	stateCh chan struct{}
}

func newManagedAgent(rec *store.AgentRecord) *managedAgent {
	return &managedAgent{
		rec:     rec,
		pending: make(map[string]chan bool),
		stateCh: make(chan struct{}),
	}
}

// notifyLocked wakes every state waiter. Caller holds a.mu.
func (a *managedAgent) notifyLocked() {
	close(a.stateCh)
	a.stateCh = make(chan struct{})
}

func (a *managedAgent) runningLocked() bool { return a.runCancel != nil }

// snapshotLocked builds the client projection. Caller holds a.mu.
func (a *managedAgent) snapshotLocked() protocol.AgentSnapshot {
	rec := a.rec
	return protocol.AgentSnapshot{
		ID:                rec.ID,
		Title:             rec.Title,
		Provider:          rec.Provider,
		Model:             rec.Model,
		Cwd:               rec.Cwd,
		Lifecycle:         rec.Lifecycle,
		Mode:              rec.Mode,
		Labels:            rec.Labels,
		Archived:          rec.Archived,
		RequiresAttention: rec.RequiresAttention,
		AttentionReason:   rec.AttentionReason,
		BranchName:        rec.BranchName,
		WorktreePath:      rec.WorktreePath,
		LastError:         rec.LastError,
		TimelineLen:       len(rec.Timeline),
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

// startRunLocked transitions to running and installs run bookkeeping.
// Caller holds a.mu and has verified the agent is idle.
func (a *managedAgent) startRunLocked() (runID string, runCtx context.Context, done chan struct{}) {
	runID = "run_" + uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})

	a.runID = runID
	a.runCancel = cancel
	a.runDone = done
	a.curTextID = ""
	a.rec.Lifecycle = protocol.LifecycleRunning
	a.rec.LastError = ""
	a.rec.RequiresAttention = false
	a.rec.AttentionReason = ""
	a.rec.UpdatedAt = time.Now().UTC()
	a.notifyLocked()
	return runID, runCtx, done
}

// endRunLocked clears run bookkeeping and settles the lifecycle.
// Caller holds a.mu.
func (a *managedAgent) endRunLocked(endState, lastError string) {
	a.runID = ""
	a.runCancel = nil
	a.runDone = nil
	a.curTextID = ""

	switch endState {
	case protocol.LifecycleError:
		a.rec.Lifecycle = protocol.LifecycleError
		a.rec.LastError = lastError
		a.rec.RequiresAttention = true
		a.rec.AttentionReason = protocol.AttentionError
	default:
		a.rec.Lifecycle = protocol.LifecycleIdle
	}
	a.rec.UpdatedAt = time.Now().UTC()
	a.notifyLocked()
}
