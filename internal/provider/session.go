package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxIterations = 40

// SessionConfig wires one agent's provider session.
type SessionConfig struct {
	AgentID       string
	Provider      ChatProvider
	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int
	Toolbox       Toolbox        // nil disables tools
	Gate          PermissionGate // nil auto-denies ask-gated tools
	Logger        *slog.Logger
}

// Session holds one agent's conversation and drives the think-act-observe
// loop against its provider. The agent manager guarantees at most one Run
// is active at a time.
type Session struct {
	cfg    SessionConfig
	tracer trace.Tracer

	mu       sync.Mutex
	messages []Message
}

// NewSession starts an empty conversation.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Session{cfg: cfg, tracer: otel.Tracer("paseo/provider")}
}

// sessionHandle is the serialized resume form.
type sessionHandle struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// ResumeSession restores a conversation from a persistence handle
// previously produced by Handle.
func ResumeSession(cfg SessionConfig, handle json.RawMessage) (*Session, error) {
	s := NewSession(cfg)
	if len(handle) == 0 {
		return s, nil
	}
	var h sessionHandle
	if err := json.Unmarshal(handle, &h); err != nil {
		return nil, fmt.Errorf("provider: parse session handle: %w", err)
	}
	if h.Provider != "" && h.Provider != cfg.Provider.Name() {
		return nil, fmt.Errorf("provider: handle belongs to %s, session uses %s", h.Provider, cfg.Provider.Name())
	}
	s.messages = h.Messages
	return s, nil
}

// Handle serializes the conversation for atomic persistence.
func (s *Session) Handle() (json.RawMessage, error) {
	s.mu.Lock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	s.mu.Unlock()

	data, err := json.Marshal(sessionHandle{
		Provider: s.cfg.Provider.Name(),
		Model:    s.cfg.Model,
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal session handle: %w", err)
	}
	return data, nil
}

// Run executes one agent run: the user message is appended, then provider
// rounds alternate with tool executions until the model stops calling
// tools. Events are emitted in production order; emit must not block.
//
// A ctx cancellation is returned as ctx.Err — the caller distinguishes
// cancel from failure.
func (s *Session) Run(ctx context.Context, prompt string, images []ImageContent, mode string, emit func(Event)) error {
	ctx, span := s.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", s.cfg.AgentID),
		attribute.String("provider", s.cfg.Provider.Name()),
		attribute.String("mode", mode),
	))
	defer span.End()

	s.mu.Lock()
	s.messages = append(s.messages, Message{Role: "user", Content: prompt, Images: images})
	msgs := s.snapshotLocked()
	s.mu.Unlock()

	var toolDefs []ToolDefinition
	if s.cfg.Toolbox != nil {
		toolDefs = s.cfg.Toolbox.Definitions()
	}

	totalUsage := &Usage{}
	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		resp, err := s.round(ctx, msgs, toolDefs, iteration, emit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run failed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			emit(Event{Type: EventError, Err: err})
			return err
		}
		totalUsage.add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			s.mu.Lock()
			s.messages = append(s.messages, Message{Role: "assistant", Content: resp.Content})
			s.mu.Unlock()
			break
		}

		assistant := Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistant)
		s.mu.Lock()
		s.messages = append(s.messages, assistant)
		s.mu.Unlock()

		for _, tc := range resp.ToolCalls {
			outcome := s.executeTool(ctx, tc, mode, emit)
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "cancelled")
				return ctx.Err()
			}
			toolMsg := Message{Role: "tool", Content: outcome, ToolCallID: tc.ID}
			msgs = append(msgs, toolMsg)
			s.mu.Lock()
			s.messages = append(s.messages, toolMsg)
			s.mu.Unlock()
		}
	}

	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", totalUsage.PromptTokens),
		attribute.Int("usage.completion_tokens", totalUsage.CompletionTokens),
	)
	emit(Event{Type: EventFinish, Usage: totalUsage})
	return nil
}

// round performs one provider call, streaming text deltas out as events.
func (s *Session) round(ctx context.Context, msgs []Message, toolDefs []ToolDefinition, iteration int, emit func(Event)) (*ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "provider.round", trace.WithAttributes(
		attribute.Int("iteration", iteration),
		attribute.Int("messages", len(msgs)),
	))
	defer span.End()

	req := ChatRequest{
		Messages:  s.withSystem(msgs),
		Tools:     toolDefs,
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
	}
	resp, err := s.cfg.Provider.ChatStream(ctx, req, func(chunk StreamChunk) {
		if chunk.Content != "" {
			emit(Event{Type: EventTextDelta, Text: chunk.Content})
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, fmt.Errorf("provider round %d: %w", iteration, err)
	}
	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// executeTool gates and runs one tool call, emitting tool_call and
// tool_result events. The returned string is the tool message fed back to
// the model.
func (s *Session) executeTool(ctx context.Context, tc ToolCall, mode string, emit func(Event)) string {
	ctx, span := s.tracer.Start(ctx, "tool.exec", trace.WithAttributes(
		attribute.String("tool", tc.Name),
		attribute.String("call_id", tc.ID),
	))
	defer span.End()

	emit(Event{Type: EventToolCall, ToolCall: &ToolCallEvent{
		CallID: tc.ID,
		Name:   tc.Name,
		Input:  tc.Input(),
		Status: ToolStatusRunning,
	}})

	fail := func(errText, reason string) string {
		span.SetStatus(codes.Error, errText)
		emit(Event{Type: EventToolResult, ToolCall: &ToolCallEvent{
			CallID: tc.ID,
			Name:   tc.Name,
			Status: ToolStatusFailed,
			Error:  errText,
			Reason: reason,
		}})
		return "Error: " + errText
	}

	if s.cfg.Toolbox == nil {
		return fail(fmt.Sprintf("unknown tool %q", tc.Name), "")
	}

	switch s.cfg.Toolbox.Decide(mode, tc.Name) {
	case DecisionDeny:
		return fail(fmt.Sprintf("tool %q is not allowed in %s mode", tc.Name, mode), ReasonDenied)

	case DecisionAsk:
		req := PermissionRequest{
			RequestID: "perm_" + uuid.NewString(),
			ToolName:  tc.Name,
			CallID:    tc.ID,
			Action:    s.cfg.Toolbox.Describe(tc.Name, tc.Input()),
			Input:     tc.Input(),
		}
		emit(Event{Type: EventPermissionRequest, Permission: &req})
		if s.cfg.Gate == nil {
			return fail("no permission gate available", ReasonDenied)
		}
		accepted, err := s.cfg.Gate.Request(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return fail("cancelled while awaiting permission", ReasonCancelled)
			}
			return fail(fmt.Sprintf("permission request failed: %v", err), "")
		}
		if !accepted {
			s.cfg.Logger.Info("tool_denied", "agent_id", s.cfg.AgentID, "tool", tc.Name)
			return fail("the user denied this tool call", ReasonDenied)
		}
	}

	output, isError := s.cfg.Toolbox.Execute(ctx, tc.Name, tc.Input())
	if ctx.Err() != nil {
		return fail("cancelled", ReasonCancelled)
	}
	if isError {
		return fail(output, "")
	}
	emit(Event{Type: EventToolResult, ToolCall: &ToolCallEvent{
		CallID: tc.ID,
		Name:   tc.Name,
		Status: ToolStatusCompleted,
		Output: output,
	}})
	return output
}

func (s *Session) withSystem(msgs []Message) []Message {
	if s.cfg.SystemPrompt == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: "system", Content: s.cfg.SystemPrompt})
	return append(out, msgs...)
}

func (s *Session) snapshotLocked() []Message {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Input returns the call arguments, never nil.
func (tc ToolCall) Input() json.RawMessage {
	if len(tc.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	return tc.Arguments
}

// Complete is the one-shot, non-streaming convenience used for metadata
// generation (titles, branch names, commit messages) on a cheap model.
func Complete(ctx context.Context, p ChatProvider, model, system, prompt string) (string, error) {
	req := ChatRequest{
		Model:     model,
		MaxTokens: 512,
		Messages:  []Message{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
	}
	resp, err := p.ChatStream(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
