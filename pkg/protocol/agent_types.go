package protocol

import (
	"encoding/json"
	"time"
)

// Agent lifecycle states.
const (
	LifecycleIdle    = "idle"
	LifecycleRunning = "running"
	LifecycleError   = "error"
)

// Agent modes controlling the tool permission gate.
const (
	ModeAuto     = "auto"
	ModeAsk      = "ask"
	ModeReadonly = "readonly"
)

// Attention reasons.
const (
	AttentionPermission = "permission"
	AttentionError      = "error"
)

// AgentSnapshot is the client-facing projection of a managed agent.
type AgentSnapshot struct {
	ID                string            `json:"id"`
	Title             string            `json:"title,omitempty"`
	Provider          string            `json:"provider"`
	Model             string            `json:"model,omitempty"`
	Cwd               string            `json:"cwd"`
	Lifecycle         string            `json:"lifecycle"`
	Mode              string            `json:"mode"`
	Labels            map[string]string `json:"labels,omitempty"`
	Archived          bool              `json:"archived,omitempty"`
	RequiresAttention bool              `json:"requiresAttention,omitempty"`
	AttentionReason   string            `json:"attentionReason,omitempty"`
	BranchName        string            `json:"branchName,omitempty"`
	WorktreePath      string            `json:"worktreePath,omitempty"`
	LastError         string            `json:"lastError,omitempty"`
	TimelineLen       int               `json:"timelineLen"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Timeline item kinds.
const (
	ItemUserMessage       = "user_message"
	ItemAssistantText     = "assistant_text"
	ItemToolCall          = "tool_call"
	ItemPermissionRequest = "permission_request"
	ItemArtifact          = "artifact"
	ItemSystem            = "system"
)

// Tool call statuses. Transitions are pending -> running -> completed|failed
// only; terminal statuses never revert.
const (
	ToolCallPending   = "pending"
	ToolCallRunning   = "running"
	ToolCallCompleted = "completed"
	ToolCallFailed    = "failed"
)

// TimelineItem is the tagged union of visible agent history. Exactly one of
// the variant fields is set, selected by Kind.
type TimelineItem struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	UserMessage   *UserMessageItem   `json:"userMessage,omitempty"`
	AssistantText *AssistantTextItem `json:"assistantText,omitempty"`
	ToolCall      *ToolCallItem      `json:"toolCall,omitempty"`
	Permission    *PermissionRequest `json:"permission,omitempty"`
	Artifact      *ArtifactItem      `json:"artifact,omitempty"`
	System        *SystemItem        `json:"system,omitempty"`
}

type UserMessageItem struct {
	Text   string `json:"text"`
	Images int    `json:"images,omitempty"` // count only; payloads are not persisted
}

type AssistantTextItem struct {
	Text string `json:"text"`
}

// ToolCallItem records one tool execution. Reason is set on failed items
// ("cancelled", "denied", or empty for genuine errors).
type ToolCallItem struct {
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// PermissionRequest gates a tool call until the client resolves it.
type PermissionRequest struct {
	AgentID   string          `json:"agentId"`
	RequestID string          `json:"requestId"`
	ToolName  string          `json:"toolName"`
	CallID    string          `json:"callId,omitempty"`
	Action    string          `json:"action,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// PermissionOutcome is the resolved side of a permission request.
type PermissionOutcome struct {
	RequestID string `json:"requestId"`
	Accept    bool   `json:"accept"`
}

type ArtifactItem struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Path     string `json:"path,omitempty"`
}

type SystemItem struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"` // info|error
}

// ImageBlock is an inbound prompt attachment. Data is base64 of the raw
// image bytes; the daemon re-encodes oversized images before provider
// submission.
type ImageBlock struct {
	MimeType string `json:"mimeType"`
	DataB64  string `json:"dataB64"`
}

// WorktreeSpec asks create_agent to place the agent in a fresh paseo-owned
// worktree.
type WorktreeSpec struct {
	BranchName string `json:"branchName"`
	BaseBranch string `json:"baseBranch,omitempty"`
	Slug       string `json:"slug,omitempty"`
	RunSetup   bool   `json:"runSetup,omitempty"`
}

// Requests and results.

type CreateAgentRequest struct {
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`
	Cwd      string            `json:"cwd"`
	Prompt   string            `json:"prompt,omitempty"`
	Images   []ImageBlock      `json:"images,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Mode     string            `json:"mode,omitempty"`
	Worktree *WorktreeSpec     `json:"worktree,omitempty"`
}

type CreateAgentResult struct {
	Agent AgentSnapshot `json:"agent"`
}

type AgentRefRequest struct {
	AgentID string `json:"agentId"`
}

type ArchiveAgentRequest struct {
	AgentID  string `json:"agentId"`
	Archived *bool  `json:"archived,omitempty"` // nil means archive
}

type SetAgentModeRequest struct {
	AgentID string `json:"agentId"`
	Mode    string `json:"mode"`
}

type SendAgentMessageRequest struct {
	AgentID string       `json:"agentId"`
	Prompt  string       `json:"prompt"`
	Images  []ImageBlock `json:"images,omitempty"`
}

type SendAgentMessageResult struct {
	RunID string `json:"runId"`
}

type PermissionResponseRequest struct {
	AgentID        string `json:"agentId"`
	RequestID      string `json:"requestId"`
	Accept         bool   `json:"accept"`
	RememberPolicy bool   `json:"rememberPolicy,omitempty"`
}

type WaitForFinishRequest struct {
	AgentID   string `json:"agentId"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"` // default 10 minutes
}

// WaitForFinishResult.Status is one of idle|permission|error|timeout.
type WaitForFinishResult struct {
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

type FetchAgentsRequest struct {
	Labels          map[string]string `json:"labels,omitempty"`
	IncludeArchived bool              `json:"includeArchived,omitempty"`
}

type FetchAgentsResult struct {
	Agents []AgentSnapshot `json:"agents"`
}

type FetchAgentRequest struct {
	AgentID string `json:"agentId"` // exact id, unique >=4 char prefix, or exact title
}

type FetchAgentResult struct {
	Agent    AgentSnapshot  `json:"agent"`
	Timeline []TimelineItem `json:"timeline,omitempty"`
}

type SubscribeAgentUpdatesRequest struct {
	SubscriptionID  string            `json:"subscriptionId"`
	Labels          map[string]string `json:"labels,omitempty"`
	IncludeArchived bool              `json:"includeArchived,omitempty"`
	Replay          bool              `json:"replay,omitempty"` // initial upsert per matching agent
}

type UnsubscribeAgentUpdatesRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}
