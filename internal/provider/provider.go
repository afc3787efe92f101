// Package provider wraps the LLM provider APIs behind one streaming
// abstraction: a ChatProvider speaks a vendor's chat endpoint, a Session
// drives the tool loop on top of it and emits the typed event stream the
// agent manager consumes.
package provider

import (
	"context"
	"encoding/json"
)

// ChatProvider is one vendor chat API. Implementations are stateless;
// conversation state lives in the Session.
type ChatProvider interface {
	// Name returns the provider identifier ("anthropic", "openai", "mock").
	Name() string

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string

	// ChatStream sends messages and streams deltas via onChunk, returning
	// the assembled response after the stream ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// ListModels returns the models this provider offers.
	ListModels(ctx context.Context) ([]Model, error)

	// Capabilities reports optional protocol support.
	Capabilities() Capabilities
}

// Capabilities flags what a provider's sessions can do.
type Capabilities struct {
	Permissions bool // tool calls can block on a permission gate
	Persistence bool // sessions serialize to a resume handle
}

// Model describes one selectable model.
type Model struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Cheap bool   `json:"cheap,omitempty"` // suitable for metadata/commit-message work
}

// ChatRequest is the input for one provider round.
type ChatRequest struct {
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Model     string           `json:"model,omitempty"`
	MaxTokens int              `json:"maxTokens,omitempty"`
}

// ChatResponse is the assembled result of one round.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	FinishReason string     `json:"finishReason"` // stop|tool_calls|length
	Usage        *Usage     `json:"usage,omitempty"`
}

// StreamChunk is one streamed piece of a response.
type StreamChunk struct {
	Content  string
	Thinking string
	Done     bool
}

// Message is one conversation turn.
type Message struct {
	Role       string         `json:"role"` // system|user|assistant|tool
	Content    string         `json:"content"`
	Images     []ImageContent `json:"images,omitempty"`
	ToolCalls  []ToolCall     `json:"toolCalls,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"` // role=tool replies
}

// ImageContent is a base64 image attachment for vision models.
type ImageContent struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition is a tool schema offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one round.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *Usage) add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
