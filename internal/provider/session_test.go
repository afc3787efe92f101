package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fakeToolbox answers a fixed decision and records executions.
type fakeToolbox struct {
	decision string
	output   string
	isError  bool
	executed []string
}

func (f *fakeToolbox) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "shell", Description: "run a command", Parameters: map[string]any{"type": "object"}}}
}

func (f *fakeToolbox) Decide(mode, name string) string { return f.decision }

func (f *fakeToolbox) Execute(_ context.Context, name string, _ json.RawMessage) (string, bool) {
	f.executed = append(f.executed, name)
	return f.output, f.isError
}

func (f *fakeToolbox) Describe(name string, _ json.RawMessage) string { return "run " + name }

type fakeGate struct {
	accept bool
	seen   []PermissionRequest
}

func (g *fakeGate) Request(_ context.Context, req PermissionRequest) (bool, error) {
	g.seen = append(g.seen, req)
	return g.accept, nil
}

func collectEvents(dst *[]Event) func(Event) {
	return func(ev Event) { *dst = append(*dst, ev) }
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestSessionRunToolLoop(t *testing.T) {
	mock := NewMock(
		MockRound{Text: "checking", ToolCalls: []ToolCall{{ID: "call_1", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)}}},
		MockRound{Text: "all done"},
	)
	tb := &fakeToolbox{decision: DecisionAllow, output: "file.txt"}
	s := NewSession(SessionConfig{AgentID: "ag_test", Provider: mock, Toolbox: tb})

	var events []Event
	if err := s.Run(context.Background(), "list files", nil, "auto", collectEvents(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{EventTextDelta, EventToolCall, EventToolResult, EventTextDelta, EventFinish}
	got := eventTypes(events)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", got, want)
	}
	if len(tb.executed) != 1 || tb.executed[0] != "shell" {
		t.Errorf("executed = %v, want [shell]", tb.executed)
	}

	// Tool result carries the terminal status and output.
	var result *ToolCallEvent
	for _, ev := range events {
		if ev.Type == EventToolResult {
			result = ev.ToolCall
		}
	}
	if result == nil || result.Status != ToolStatusCompleted || result.Output != "file.txt" {
		t.Errorf("tool result = %+v, want completed/file.txt", result)
	}
}

func TestSessionPermissionDenied(t *testing.T) {
	mock := NewMock(
		MockRound{ToolCalls: []ToolCall{{ID: "call_1", Name: "shell", Arguments: json.RawMessage(`{"command":"rm -rf /"}`)}}},
		MockRound{Text: "understood"},
	)
	tb := &fakeToolbox{decision: DecisionAsk, output: "never"}
	gate := &fakeGate{accept: false}
	s := NewSession(SessionConfig{AgentID: "ag_test", Provider: mock, Toolbox: tb, Gate: gate})

	var events []Event
	if err := s.Run(context.Background(), "clean up", nil, "ask", collectEvents(&events)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gate.seen) != 1 || gate.seen[0].ToolName != "shell" {
		t.Fatalf("gate saw %+v, want one shell request", gate.seen)
	}
	if len(tb.executed) != 0 {
		t.Errorf("denied tool still executed: %v", tb.executed)
	}

	var sawPermission bool
	for _, ev := range events {
		if ev.Type == EventPermissionRequest {
			sawPermission = true
		}
		if ev.Type == EventToolResult {
			if ev.ToolCall.Status != ToolStatusFailed || ev.ToolCall.Reason != ReasonDenied {
				t.Errorf("tool result = %+v, want failed/denied", ev.ToolCall)
			}
		}
	}
	if !sawPermission {
		t.Error("no permission_request event emitted")
	}
}

func TestSessionProviderError(t *testing.T) {
	boom := errors.New("rate limited hard")
	mock := NewMock(MockRound{Err: boom})
	s := NewSession(SessionConfig{AgentID: "ag_test", Provider: mock})

	var events []Event
	err := s.Run(context.Background(), "hi", nil, "auto", collectEvents(&events))
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want wrapped %v", err, boom)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Errorf("events = %v, want single error event", eventTypes(events))
	}
}

func TestSessionHandleRoundTrip(t *testing.T) {
	mock := NewMock(MockRound{Text: "hello there"})
	s := NewSession(SessionConfig{AgentID: "ag_test", Provider: mock})
	if err := s.Run(context.Background(), "hi", nil, "auto", func(Event) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	handle, err := s.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	resumed, err := ResumeSession(SessionConfig{AgentID: "ag_test", Provider: mock}, handle)
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	resumed.mu.Lock()
	n := len(resumed.messages)
	last := resumed.messages[n-1]
	resumed.mu.Unlock()
	if n != 2 || last.Role != "assistant" || last.Content != "hello there" {
		t.Errorf("resumed history = %d messages, last %+v", n, last)
	}

	// A handle from another provider is rejected.
	badCfg := SessionConfig{AgentID: "ag_test", Provider: NewOpenAI("k", OpenAIOptions{})}
	if _, err := ResumeSession(badCfg, handle); err == nil {
		t.Error("ResumeSession accepted a foreign handle")
	}
}
