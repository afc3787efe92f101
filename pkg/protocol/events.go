package protocol

// Message types pushed from the daemon to clients.
const (
	MsgResponse       = "response"
	MsgServerInfo     = "server_info"
	MsgAgentEvent     = "agent_event"
	MsgAgentUpdate    = "agent_update"
	MsgTerminalOutput = "terminal_output"
	MsgTerminalExit   = "terminal_exit"
	MsgDictationEvent = "dictation_event"
	MsgVoiceEvent     = "voice_event"
)

// Agent event subtypes (AgentEvent.Type).
const (
	AgentEventRunStarted          = "run_started"
	AgentEventRunEnded            = "run_ended"
	AgentEventTextDelta           = "text_delta"
	AgentEventToolCall            = "tool_call"
	AgentEventToolCallUpdate      = "tool_call_update"
	AgentEventPermissionRequested = "permission_requested"
	AgentEventPermissionResolved  = "permission_resolved"
	AgentEventState               = "agent_state"
	AgentEventError               = "error"
)

// Agent update kinds (AgentUpdate.Kind).
const (
	AgentUpdateUpsert = "upsert"
	AgentUpdateRemove = "remove"
)

// AgentEvent is the payload of MsgAgentEvent frames. Exactly one of the
// optional fields is set, selected by Type.
type AgentEvent struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	RunID   string `json:"runId,omitempty"`

	Text       string             `json:"text,omitempty"`
	ToolCall   *ToolCallItem      `json:"toolCall,omitempty"`
	Permission *PermissionRequest `json:"permission,omitempty"`
	Resolution *PermissionOutcome `json:"resolution,omitempty"`
	State      *AgentSnapshot     `json:"state,omitempty"`
	EndState   string             `json:"endState,omitempty"` // run_ended: idle|error|cancelled
	Error      *Error             `json:"error,omitempty"`
}

// AgentUpdate is the payload of MsgAgentUpdate frames pushed to
// subscribe_agent_updates subscribers.
type AgentUpdate struct {
	SubscriptionID string         `json:"subscriptionId"`
	Kind           string         `json:"kind"`
	AgentID        string         `json:"agentId"`
	Agent          *AgentSnapshot `json:"agent,omitempty"` // set for upsert
}

// ServerInfo is the payload of the MsgServerInfo handshake reply. ServerID
// is authoritative; clients rekey stored profiles that disagree.
type ServerInfo struct {
	ServerID string `json:"serverId"`
	Version  string `json:"version"`
	Time     string `json:"time,omitempty"`
}

// ClientHello opens the handshake from the client side.
type ClientHello struct {
	ClientName string `json:"clientName,omitempty"`
	Version    string `json:"version,omitempty"`
}

// TerminalOutput is the payload of MsgTerminalOutput frames.
type TerminalOutput struct {
	TerminalID string `json:"terminalId"`
	DataB64    string `json:"dataB64"`
	Seq        uint64 `json:"seq"`
}

// TerminalExit is pushed once when a subscribed terminal's process exits.
type TerminalExit struct {
	TerminalID string `json:"terminalId"`
	ExitCode   int    `json:"exitCode"`
}

// DictationEvent reports incremental dictation state to the client.
type DictationEvent struct {
	DictationID string `json:"dictationId"`
	Type        string `json:"type"` // started|finished|cancelled|error
	Text        string `json:"text,omitempty"`
	Error       *Error `json:"error,omitempty"`
}
