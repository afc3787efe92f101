package agent

import (
	"testing"

	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

func TestToolCallTransitions(t *testing.T) {
	rec := &store.AgentRecord{ID: "ag_t"}
	if _, err := appendToolCall(rec, protocol.ToolCallItem{CallID: "c1", Name: "shell", Status: protocol.ToolCallRunning}); err != nil {
		t.Fatal(err)
	}
	if _, err := appendToolCall(rec, protocol.ToolCallItem{CallID: "c1", Name: "shell"}); err == nil {
		t.Error("duplicate callId accepted")
	}
	if _, err := updateToolCall(rec, "c1", protocol.ToolCallCompleted, "ok", "", ""); err != nil {
		t.Fatal(err)
	}
	// Terminal statuses never revert.
	if _, err := updateToolCall(rec, "c1", protocol.ToolCallRunning, "", "", ""); err == nil {
		t.Error("completed tool call moved back to running")
	}
	if _, err := updateToolCall(rec, "c1", protocol.ToolCallFailed, "", "boom", ""); err == nil {
		t.Error("completed tool call flipped to failed")
	}
	if _, err := updateToolCall(rec, "nope", protocol.ToolCallCompleted, "", "", ""); err == nil {
		t.Error("unknown callId accepted")
	}
}

func TestFinalizeOpenToolCalls(t *testing.T) {
	rec := &store.AgentRecord{ID: "ag_t"}
	appendToolCall(rec, protocol.ToolCallItem{CallID: "open", Name: "shell", Status: protocol.ToolCallRunning})
	appendToolCall(rec, protocol.ToolCallItem{CallID: "done", Name: "shell", Status: protocol.ToolCallRunning})
	updateToolCall(rec, "done", protocol.ToolCallCompleted, "ok", "", "")

	finalized := finalizeOpenToolCalls(rec, "cancelled")
	if len(finalized) != 1 || finalized[0].CallID != "open" {
		t.Fatalf("finalized = %+v, want only the open call", finalized)
	}
	if finalized[0].Status != protocol.ToolCallFailed || finalized[0].Reason != "cancelled" {
		t.Errorf("finalized call = %+v, want failed/cancelled", finalized[0])
	}
}

func TestHubDropsLaggingSubscriber(t *testing.T) {
	h := NewHub(minSubscriberQueue, nil)
	ch := h.Subscribe("slow", "ag_x")

	// Fill the queue past its bound without draining.
	for i := 0; i < minSubscriberQueue+1; i++ {
		h.Publish(protocol.AgentEvent{Type: protocol.AgentEventTextDelta, AgentID: "ag_x", Text: "x"})
	}

	// Drain: the channel must be closed after the overflow.
	closed := false
	for i := 0; i < minSubscriberQueue+1; i++ {
		if _, ok := <-ch; !ok {
			closed = true
			break
		}
	}
	if !closed {
		t.Error("lagging subscriber channel not closed")
	}

	// Other subscribers are unaffected.
	ch2 := h.Subscribe("fast", "")
	h.Publish(protocol.AgentEvent{Type: protocol.AgentEventTextDelta, AgentID: "ag_y"})
	if ev, ok := <-ch2; !ok || ev.AgentID != "ag_y" {
		t.Errorf("fast subscriber got %+v, %v", ev, ok)
	}
}
