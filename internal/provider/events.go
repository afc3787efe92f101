package provider

import (
	"context"
	"encoding/json"
)

// Event types a Session emits during a run, in provider production order.
const (
	EventTextDelta         = "text_delta"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventPermissionRequest = "permission_request"
	EventFinish            = "finish"
	EventError             = "error"
)

// Event is one element of a run's event stream. Exactly one of the variant
// fields is set, selected by Type.
type Event struct {
	Type string

	Text       string             // text_delta
	ToolCall   *ToolCallEvent     // tool_call, tool_result
	Permission *PermissionRequest // permission_request
	Usage      *Usage             // finish
	Err        error              // error
}

// Tool call statuses as they move through a run.
const (
	ToolStatusRunning   = "running"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// Failure reasons distinguishable from genuine tool errors.
const (
	ReasonCancelled = "cancelled"
	ReasonDenied    = "denied"
)

// ToolCallEvent describes one tool execution step. A tool_call event
// carries status running; the matching tool_result carries the terminal
// status plus output or error.
type ToolCallEvent struct {
	CallID string
	Name   string
	Input  json.RawMessage
	Status string
	Output string
	Error  string
	Reason string // set on failed: cancelled|denied, empty for real errors
}

// PermissionRequest gates a tool call until the user resolves it.
type PermissionRequest struct {
	RequestID string
	ToolName  string
	CallID    string
	Action    string
	Input     json.RawMessage
}

// PermissionGate blocks a session run until a pending permission request
// is resolved. Request returns the user's decision; the gate never times
// out on its own.
type PermissionGate interface {
	Request(ctx context.Context, req PermissionRequest) (accepted bool, err error)
}

// Toolbox supplies tool schemas, mode policy, and execution to a session.
// Implemented by internal/tools; the indirection keeps this package free of
// a tools dependency.
type Toolbox interface {
	// Definitions lists the tools offered to the model.
	Definitions() []ToolDefinition

	// Decide maps (agent mode, tool name) to allow|ask|deny.
	Decide(mode, name string) string

	// Execute runs a tool and returns its output. isError marks tool-level
	// failures; transport errors surface as output text too.
	Execute(ctx context.Context, name string, args json.RawMessage) (output string, isError bool)

	// Describe summarizes a call for permission prompts ("run `make test`").
	Describe(name string, args json.RawMessage) string
}

// Policy decisions returned by Toolbox.Decide.
const (
	DecisionAllow = "allow"
	DecisionAsk   = "ask"
	DecisionDeny  = "deny"
)
