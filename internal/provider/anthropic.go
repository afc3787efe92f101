package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic speaks the Messages API over net/http with SSE streaming.
type Anthropic struct {
	apiKey       string
	baseURL      string
	version      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

// AnthropicOptions configure the client; zero values take the defaults.
type AnthropicOptions struct {
	BaseURL      string
	Version      string
	DefaultModel string
}

func NewAnthropic(apiKey string, opts AnthropicOptions) *Anthropic {
	p := &Anthropic{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		version:      anthropicAPIVersion,
		defaultModel: "claude-sonnet-4-5-20250929",
		client:       &http.Client{Timeout: 10 * time.Minute},
		retry:        DefaultRetryConfig(),
	}
	if opts.BaseURL != "" {
		p.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Version != "" {
		p.version = opts.Version
	}
	if opts.DefaultModel != "" {
		p.defaultModel = opts.DefaultModel
	}
	return p
}

func (p *Anthropic) Name() string         { return "anthropic" }
func (p *Anthropic) DefaultModel() string { return p.defaultModel }

func (p *Anthropic) Capabilities() Capabilities {
	return Capabilities{Permissions: true, Persistence: true}
}

func (p *Anthropic) ListModels(_ context.Context) ([]Model, error) {
	return []Model{
		{ID: "claude-opus-4-5-20251101", Label: "Claude Opus 4.5"},
		{ID: "claude-sonnet-4-5-20250929", Label: "Claude Sonnet 4.5"},
		{ID: "claude-3-5-haiku-20241022", Label: "Claude Haiku 3.5", Cheap: true},
	}, nil
}

// ChatStream opens an SSE stream. The connection phase retries on rate
// limits and 5xx; once bytes flow there is no retry.
func (p *Anthropic) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequestBody(req, true)
	respBody, err := retryDo(ctx, p.retry, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	toolJSON := make(map[int]string) // partial input_json per tool index

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch event {
		case "message_start":
			var ev anthropicMessageStart
			if json.Unmarshal([]byte(data), &ev) == nil && ev.Message.Usage.InputTokens > 0 {
				result.Usage = &Usage{PromptTokens: ev.Message.Usage.InputTokens}
			}

		case "content_block_start":
			var ev anthropicBlockStart
			if json.Unmarshal([]byte(data), &ev) == nil && ev.ContentBlock.Type == "tool_use" {
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:   ev.ContentBlock.ID,
					Name: ev.ContentBlock.Name,
				})
			}

		case "content_block_delta":
			var ev anthropicBlockDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				result.Content += ev.Delta.Text
				if onChunk != nil {
					onChunk(StreamChunk{Content: ev.Delta.Text})
				}
			case "thinking_delta":
				if onChunk != nil {
					onChunk(StreamChunk{Thinking: ev.Delta.Thinking})
				}
			case "input_json_delta":
				if n := len(result.ToolCalls); n > 0 {
					toolJSON[n-1] += ev.Delta.PartialJSON
				}
			}

		case "message_delta":
			var ev anthropicMessageDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.StopReason {
			case "tool_use":
				result.FinishReason = "tool_calls"
			case "max_tokens":
				result.FinishReason = "length"
			case "":
			default:
				result.FinishReason = "stop"
			}
			if ev.Usage.OutputTokens > 0 {
				if result.Usage == nil {
					result.Usage = &Usage{}
				}
				result.Usage.CompletionTokens = ev.Usage.OutputTokens
			}

		case "error":
			var ev anthropicErrorEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				return nil, fmt.Errorf("anthropic stream: %s: %s", ev.Error.Type, ev.Error.Message)
			}
			return nil, fmt.Errorf("anthropic stream: %s", data)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream read: %w", err)
	}

	for i, raw := range toolJSON {
		if raw != "" && json.Valid([]byte(raw)) {
			result.ToolCalls[i].Arguments = json.RawMessage(raw)
		}
	}
	for i := range result.ToolCalls {
		if len(result.ToolCalls[i].Arguments) == 0 {
			result.ToolCalls[i].Arguments = json.RawMessage("{}")
		}
	}

	if result.Usage != nil {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

func (p *Anthropic) buildRequestBody(req ChatRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var system []map[string]any
	var messages []map[string]any

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, map[string]any{"type": "text", "text": msg.Content})

		case "user":
			if len(msg.Images) == 0 {
				messages = append(messages, map[string]any{"role": "user", "content": msg.Content})
				continue
			}
			var blocks []map[string]any
			for _, img := range msg.Images {
				blocks = append(blocks, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": img.MimeType,
						"data":       img.Data,
					},
				})
			}
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			messages = append(messages, map[string]any{"role": "user", "content": blocks})

		case "assistant":
			var blocks []map[string]any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Arguments,
				})
			}
			messages = append(messages, map[string]any{"role": "assistant", "content": blocks})

		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})
		}
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(system) > 0 {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}
	return body
}

func (p *Anthropic) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       "anthropic: " + string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// Anthropic SSE payloads.

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessageStart struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicBlockDelta struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
