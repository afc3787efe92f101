package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockRound scripts one provider response for tests.
type MockRound struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
	// Delay holds the round open so tests can race cancels against it.
	Delay time.Duration
}

// Mock is a scripted ChatProvider. Rounds are consumed in order; when the
// script runs out it keeps answering with the final round's text.
type Mock struct {
	ModelID string

	mu     sync.Mutex
	rounds []MockRound
	cursor int
	// Requests records every ChatRequest for assertions.
	Requests []ChatRequest
}

func NewMock(rounds ...MockRound) *Mock {
	return &Mock{ModelID: "mock-1", rounds: rounds}
}

func (m *Mock) Name() string         { return "mock" }
func (m *Mock) DefaultModel() string { return m.ModelID }

func (m *Mock) Capabilities() Capabilities {
	return Capabilities{Permissions: true, Persistence: true}
}

func (m *Mock) ListModels(_ context.Context) ([]Model, error) {
	return []Model{{ID: m.ModelID, Label: "Mock", Cheap: true}}, nil
}

// Append adds rounds to the script after construction.
func (m *Mock) Append(rounds ...MockRound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, rounds...)
}

func (m *Mock) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if len(m.rounds) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider: empty script")
	}
	round := m.rounds[m.cursor]
	if m.cursor < len(m.rounds)-1 {
		m.cursor++
	}
	m.mu.Unlock()

	if round.Delay > 0 {
		select {
		case <-time.After(round.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if round.Err != nil {
		return nil, round.Err
	}

	if onChunk != nil && round.Text != "" {
		onChunk(StreamChunk{Content: round.Text})
	}
	resp := &ChatResponse{
		Content:      round.Text,
		ToolCalls:    round.ToolCalls,
		FinishReason: "stop",
		Usage:        &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	if len(round.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return resp, nil
}
