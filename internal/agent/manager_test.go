package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

func newTestManager(t *testing.T, mock *provider.Mock) *Manager {
	t.Helper()
	st, err := store.NewAgentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	registry := provider.NewRegistry(config.Config{
		Agents: config.AgentsConfig{DefaultProvider: "mock"},
	})
	if mock != nil {
		registry.Register(mock)
	}
	m, err := NewManager(config.AgentsConfig{DefaultProvider: "mock"}, st, registry, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func createIdleAgent(t *testing.T, m *Manager, cwd string) protocol.AgentSnapshot {
	t.Helper()
	snap, err := m.Create(context.Background(), protocol.CreateAgentRequest{Cwd: cwd, Mode: protocol.ModeAuto})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return snap
}

func waitIdle(t *testing.T, m *Manager, id string) protocol.WaitForFinishResult {
	t.Helper()
	res, err := m.WaitForFinish(context.Background(), id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForFinish: %v", err)
	}
	return res
}

// startRun submits a prompt from a goroutine and returns once the run is
// visibly active. SendMessage's own result lands on the returned channel;
// it resolves only when the provider produces its first event.
func startRun(t *testing.T, m *Manager, id, prompt string) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(context.Background(), id, prompt, nil)
		errCh <- err
	}()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, _, err := m.Fetch(id)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if snap.Lifecycle == protocol.LifecycleRunning {
			return errCh
		}
		if time.Now().After(deadline) {
			t.Fatal("run never became visible")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunLifecycleAndEventPairing(t *testing.T) {
	mock := provider.NewMock(provider.MockRound{Text: "hello"})
	m := newTestManager(t, mock)
	snap := createIdleAgent(t, m, t.TempDir())

	events := m.Events().Subscribe("sub1", snap.ID)

	runID, err := m.SendMessage(context.Background(), snap.ID, "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}
	if res := waitIdle(t, m, snap.ID); res.Status != protocol.LifecycleIdle {
		t.Fatalf("final status = %s, want idle", res.Status)
	}

	starts, ends := 0, 0
	deadline := time.After(2 * time.Second)
	for ends == 0 {
		select {
		case ev := <-events:
			switch ev.Type {
			case protocol.AgentEventRunStarted:
				starts++
			case protocol.AgentEventRunEnded:
				ends++
				if ev.EndState != "idle" {
					t.Errorf("end state = %s, want idle", ev.EndState)
				}
			}
		case <-deadline:
			t.Fatal("no run_ended event")
		}
	}
	if starts != ends {
		t.Errorf("run_started = %d, run_ended = %d", starts, ends)
	}
}

func TestImplicitCancelOnNewPrompt(t *testing.T) {
	mock := provider.NewMock(
		provider.MockRound{Text: "slow answer", Delay: 5 * time.Second},
		provider.MockRound{Text: "fast answer"},
	)
	m := newTestManager(t, mock)
	snap := createIdleAgent(t, m, t.TempDir())

	errA := startRun(t, m, snap.ID, "prompt A")

	// Prompt B displaces A: the first run is cancelled and drained before
	// the new one starts.
	start := time.Now()
	runB, err := m.SendMessage(context.Background(), snap.ID, "prompt B", nil)
	if err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("implicit cancel waited for the slow round instead of cancelling it")
	}
	if runB == "" {
		t.Fatal("no run id for prompt B")
	}

	// The displaced sender hears about the cancellation, not a start.
	select {
	case err := <-errA:
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.ErrCancelled {
			t.Errorf("displaced prompt err = %v, want cancelled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("displaced prompt never resolved")
	}
	if res := waitIdle(t, m, snap.ID); res.Status != protocol.LifecycleIdle {
		t.Fatalf("final status = %s, want idle", res.Status)
	}

	_, timeline, err := m.Fetch(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	var prompts []string
	for _, item := range timeline {
		if item.Kind == protocol.ItemUserMessage {
			prompts = append(prompts, item.UserMessage.Text)
		}
	}
	if len(prompts) != 2 || prompts[0] != "prompt A" || prompts[1] != "prompt B" {
		t.Errorf("user messages = %v", prompts)
	}
}

func TestProviderErrorSetsErrorState(t *testing.T) {
	mock := provider.NewMock(provider.MockRound{Err: errors.New("model unavailable")})
	m := newTestManager(t, mock)
	snap := createIdleAgent(t, m, t.TempDir())

	// The provider dies before producing anything, so the send is not
	// acknowledged as started.
	_, err := m.SendMessage(context.Background(), snap.ID, "hi", nil)
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != protocol.ErrInternal {
		t.Fatalf("SendMessage err = %v, want internal", err)
	}
	res := waitIdle(t, m, snap.ID)
	if res.Status != protocol.LifecycleError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	got, _, err := m.Fetch(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.RequiresAttention || got.AttentionReason != protocol.AttentionError {
		t.Errorf("attention = %v/%s, want true/error", got.RequiresAttention, got.AttentionReason)
	}

	// clear_agent_attention resets the flag.
	cleared, err := m.ClearAttention(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cleared.RequiresAttention {
		t.Error("attention not cleared")
	}
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	m := newTestManager(t, nil)

	// Two agents sharing the prefix ab12 and one unrelated.
	for _, id := range []string{"ab12cd000001", "ab12ef000002", "zz99xx000003"} {
		rec := &store.AgentRecord{ID: id, Provider: "mock", Cwd: "/tmp", Mode: protocol.ModeAsk, Lifecycle: protocol.LifecycleIdle}
		if err := m.store.Save(rec); err != nil {
			t.Fatal(err)
		}
		m.agents[id] = newManagedAgent(rec)
	}

	_, err := m.Resolve("ab12")
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != protocol.ErrAmbiguousIdentifier {
		t.Fatalf("Resolve(ab12) err = %v, want ambiguous_identifier", err)
	}
	if len(perr.Candidates) != 2 {
		t.Errorf("candidates = %v, want 2 short ids", perr.Candidates)
	}

	if a, err := m.Resolve("ab12cd"); err != nil || a.rec.ID != "ab12cd000001" {
		t.Errorf("Resolve(ab12cd) = %v, %v", a, err)
	}

	// Prefixes shorter than four characters never match.
	if _, err := m.Resolve("ab1"); err == nil {
		t.Error("Resolve(ab1) matched a short prefix")
	}
	if _, err := m.Resolve(""); err == nil {
		t.Error("Resolve() accepted an empty identifier")
	}
}

func TestResolveByTitle(t *testing.T) {
	m := newTestManager(t, nil)
	rec := &store.AgentRecord{ID: "xy99ab000001", Title: "Fix the flaky test", Provider: "mock", Cwd: "/tmp", Mode: protocol.ModeAsk, Lifecycle: protocol.LifecycleIdle}
	m.agents[rec.ID] = newManagedAgent(rec)

	a, err := m.Resolve("Fix the flaky test")
	if err != nil || a.rec.ID != rec.ID {
		t.Fatalf("Resolve by title = %v, %v", a, err)
	}
}

func TestPermissionFlow(t *testing.T) {
	mock := provider.NewMock(
		provider.MockRound{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "shell", Arguments: []byte(`{"command":"true"}`)}}},
		provider.MockRound{Text: "done"},
	)
	m := newTestManager(t, mock)
	snap, err := m.Create(context.Background(), protocol.CreateAgentRequest{Cwd: t.TempDir(), Mode: protocol.ModeAuto})
	if err != nil {
		t.Fatal(err)
	}
	events := m.Events().Subscribe("sub1", snap.ID)

	if _, err := m.SendMessage(context.Background(), snap.ID, "run it", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Shell is gated in auto mode: the run blocks on a permission request.
	var reqID string
	deadline := time.After(3 * time.Second)
	for reqID == "" {
		select {
		case ev := <-events:
			if ev.Type == protocol.AgentEventPermissionRequested {
				reqID = ev.Permission.RequestID
			}
		case <-deadline:
			t.Fatal("no permission_requested event")
		}
	}

	res, err := m.WaitForFinish(context.Background(), snap.ID, 2*time.Second)
	if err != nil || res.Status != "permission" {
		t.Fatalf("WaitForFinish during gate = %+v, %v; want permission", res, err)
	}

	if err := m.RespondToPermission(snap.ID, protocol.PermissionResponseRequest{RequestID: reqID, Accept: true}); err != nil {
		t.Fatalf("RespondToPermission: %v", err)
	}

	// A second resolution of the same request is rejected.
	err = m.RespondToPermission(snap.ID, protocol.PermissionResponseRequest{RequestID: reqID, Accept: false})
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != protocol.ErrBadRequest {
		t.Errorf("duplicate resolution err = %v, want bad_request", err)
	}

	if res := waitIdle(t, m, snap.ID); res.Status != protocol.LifecycleIdle {
		t.Fatalf("final status = %s, want idle", res.Status)
	}

	// The gated tool call ended in a terminal status and stayed there.
	_, timeline, err := m.Fetch(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	var sawTerminal bool
	for _, item := range timeline {
		if item.Kind == protocol.ItemToolCall {
			if item.ToolCall.Status != protocol.ToolCallCompleted && item.ToolCall.Status != protocol.ToolCallFailed {
				t.Errorf("tool call left in %s", item.ToolCall.Status)
			}
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Error("no tool_call item in timeline")
	}
}

func TestDeleteBlocksResurrection(t *testing.T) {
	mock := provider.NewMock(provider.MockRound{Text: "slow", Delay: 5 * time.Second})
	m := newTestManager(t, mock)
	snap := createIdleAgent(t, m, t.TempDir())

	errCh := startRun(t, m, snap.ID, "hi")
	if err := m.Delete(context.Background(), snap.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	<-errCh

	if _, err := m.store.Load(snap.ID); err == nil {
		t.Error("record still present after delete")
	}
	if _, err := m.Resolve(snap.ID); err == nil {
		t.Error("agent still resolvable after delete")
	}
}

func TestPersistCoalescesScheduledWrites(t *testing.T) {
	m := newTestManager(t, nil)
	snap := createIdleAgent(t, m, t.TempDir())
	a, err := m.get(snap.ID)
	if err != nil {
		t.Fatal(err)
	}

	a.mu.Lock()
	for i := 0; i < 32; i++ {
		a.rec.Title = fmt.Sprintf("revision %02d", i)
		m.persistLocked(a)
	}
	appendAssistantText(a.rec, "draft")
	m.persistLocked(a)
	// In-place growth after scheduling must stay out of the parked clone.
	a.rec.Timeline[len(a.rec.Timeline)-1].AssistantText.Text += " with unsaved tail"
	a.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := m.store.Load(snap.ID)
		if err == nil && rec.Title == "revision 31" {
			if got := rec.Timeline[len(rec.Timeline)-1].AssistantText.Text; got != "draft" {
				t.Fatalf("persisted text = %q, want the scheduled snapshot", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest scheduled state never persisted, err = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSetModeValidation(t *testing.T) {
	m := newTestManager(t, nil)
	snap := createIdleAgent(t, m, t.TempDir())

	if _, err := m.SetMode(snap.ID, "yolo"); err == nil {
		t.Error("SetMode accepted an unknown mode")
	}
	got, err := m.SetMode(snap.ID, protocol.ModeReadonly)
	if err != nil || got.Mode != protocol.ModeReadonly {
		t.Errorf("SetMode = %+v, %v", got, err)
	}
}

func TestSubscribeReplayThenFetchSuperset(t *testing.T) {
	m := newTestManager(t, nil)
	a := createIdleAgent(t, m, t.TempDir())
	b, err := m.Create(context.Background(), protocol.CreateAgentRequest{
		Cwd: t.TempDir(), Mode: protocol.ModeAsk, Labels: map[string]string{"team": "infra"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updates, err := m.Subscribe(protocol.SubscribeAgentUpdatesRequest{
		SubscriptionID: "s1",
		Labels:         map[string]string{"team": "infra"},
		Replay:         true,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case upd := <-updates:
		if upd.Kind != protocol.AgentUpdateUpsert || upd.AgentID != b.ID {
			t.Errorf("replay update = %+v, want upsert of %s", upd, b.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no replay update")
	}

	// The unlabeled agent never reaches this subscriber.
	if _, err := m.Archive(a.ID, true); err != nil {
		t.Fatal(err)
	}
	select {
	case upd := <-updates:
		t.Errorf("unexpected update %+v", upd)
	case <-time.After(100 * time.Millisecond):
	}
	m.Unsubscribe("s1")
}
