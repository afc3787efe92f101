package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

// The timeline is append-only: items are added and tool_call items advance
// their status, nothing is ever removed or reordered. Callers hold the
// owning agent's lock.

var toolStatusRank = map[string]int{
	protocol.ToolCallPending:   0,
	protocol.ToolCallRunning:   1,
	protocol.ToolCallCompleted: 2,
	protocol.ToolCallFailed:    2,
}

func newItemID() string { return "ti_" + uuid.NewString() }

func appendItem(rec *store.AgentRecord, item protocol.TimelineItem) protocol.TimelineItem {
	if item.ID == "" {
		item.ID = newItemID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	rec.Timeline = append(rec.Timeline, item)
	rec.UpdatedAt = item.CreatedAt
	return item
}

func appendUserMessage(rec *store.AgentRecord, text string, images int) protocol.TimelineItem {
	return appendItem(rec, protocol.TimelineItem{
		Kind:        protocol.ItemUserMessage,
		UserMessage: &protocol.UserMessageItem{Text: text, Images: images},
	})
}

func appendAssistantText(rec *store.AgentRecord, text string) protocol.TimelineItem {
	return appendItem(rec, protocol.TimelineItem{
		Kind:          protocol.ItemAssistantText,
		AssistantText: &protocol.AssistantTextItem{Text: text},
	})
}

func appendSystem(rec *store.AgentRecord, text, level string) protocol.TimelineItem {
	return appendItem(rec, protocol.TimelineItem{
		Kind:   protocol.ItemSystem,
		System: &protocol.SystemItem{Text: text, Level: level},
	})
}

func appendPermission(rec *store.AgentRecord, req protocol.PermissionRequest) protocol.TimelineItem {
	return appendItem(rec, protocol.TimelineItem{
		Kind:       protocol.ItemPermissionRequest,
		Permission: &req,
	})
}

// appendToolCall adds a new tool_call item. Call ids are unique per agent;
// a duplicate is a programming error upstream and is rejected.
func appendToolCall(rec *store.AgentRecord, call protocol.ToolCallItem) (protocol.TimelineItem, error) {
	if call.CallID == "" {
		return protocol.TimelineItem{}, fmt.Errorf("timeline: tool call without callId")
	}
	for i := range rec.Timeline {
		tc := rec.Timeline[i].ToolCall
		if tc != nil && tc.CallID == call.CallID {
			return protocol.TimelineItem{}, fmt.Errorf("timeline: duplicate callId %s", call.CallID)
		}
	}
	if call.Status == "" {
		call.Status = protocol.ToolCallPending
	}
	return appendItem(rec, protocol.TimelineItem{
		Kind:     protocol.ItemToolCall,
		ToolCall: &call,
	}), nil
}

// updateToolCall advances an existing tool_call. Only forward transitions
// are applied; terminal statuses never revert.
func updateToolCall(rec *store.AgentRecord, callID, status, output, errText, reason string) (*protocol.ToolCallItem, error) {
	for i := range rec.Timeline {
		tc := rec.Timeline[i].ToolCall
		if tc == nil || tc.CallID != callID {
			continue
		}
		from, to := toolStatusRank[tc.Status], toolStatusRank[status]
		if to <= from {
			return nil, fmt.Errorf("timeline: tool call %s cannot move %s -> %s", callID, tc.Status, status)
		}
		tc.Status = status
		if output != "" {
			tc.Output = output
		}
		if errText != "" {
			tc.Error = errText
		}
		if reason != "" {
			tc.Reason = reason
		}
		rec.UpdatedAt = time.Now().UTC()
		return tc, nil
	}
	return nil, fmt.Errorf("timeline: unknown callId %s", callID)
}

// finalizeOpenToolCalls fails every pending or running tool_call, used when
// a run is cancelled or dies. Returns the finalized items for fan-out.
func finalizeOpenToolCalls(rec *store.AgentRecord, reason string) []*protocol.ToolCallItem {
	var out []*protocol.ToolCallItem
	for i := range rec.Timeline {
		tc := rec.Timeline[i].ToolCall
		if tc == nil {
			continue
		}
		if tc.Status == protocol.ToolCallPending || tc.Status == protocol.ToolCallRunning {
			tc.Status = protocol.ToolCallFailed
			tc.Reason = reason
			out = append(out, tc)
		}
	}
	if len(out) > 0 {
		rec.UpdatedAt = time.Now().UTC()
	}
	return out
}
