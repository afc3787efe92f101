package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// bridgeTool adapts one remote MCP tool to the agent tool interface.
// Remote tools are always treated as mutating: the server decides what a
// call does, so the mode policy has to assume the worst.
type bridgeTool struct {
	server    string
	remote    mcpgo.Tool
	client    *mcpclient.Client
	connected *atomic.Bool
}

func newBridgeTool(server string, remote mcpgo.Tool, client *mcpclient.Client, connected *atomic.Bool) *bridgeTool {
	return &bridgeTool{server: server, remote: remote, client: client, connected: connected}
}

func (b *bridgeTool) Name() string {
	return "mcp_" + b.server + "_" + b.remote.Name
}

func (b *bridgeTool) Description() string {
	desc := b.remote.Description
	if desc == "" {
		desc = b.remote.Name
	}
	return fmt.Sprintf("[%s] %s", b.server, desc)
}

func (b *bridgeTool) Mutating() bool { return true }

func (b *bridgeTool) Parameters() map[string]any {
	params := map[string]any{"type": "object"}
	if b.remote.InputSchema.Type != "" {
		params["type"] = b.remote.InputSchema.Type
	}
	if len(b.remote.InputSchema.Properties) > 0 {
		params["properties"] = b.remote.InputSchema.Properties
	}
	if len(b.remote.InputSchema.Required) > 0 {
		params["required"] = b.remote.InputSchema.Required
	}
	return params
}

func (b *bridgeTool) Describe(json.RawMessage) string {
	return fmt.Sprintf("call %s on MCP server %s", b.remote.Name, b.server)
}

func (b *bridgeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if !b.connected.Load() {
		return "", fmt.Errorf("mcp server %s is not connected", b.server)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("mcp %s: bad arguments: %w", b.remote.Name, err)
		}
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.remote.Name
	req.Params.Arguments = arguments

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp %s/%s: %w", b.server, b.remote.Name, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	if text == "" {
		text = "(empty result)"
	}
	return text, nil
}

// flattenContent joins the text parts of a tool result. Non-text content is
// summarized by type rather than dropped silently.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", v.MIMEType, len(v.Data)))
		default:
			parts = append(parts, fmt.Sprintf("[%T content]", c))
		}
	}
	return strings.TrimRight(strings.Join(parts, "\n"), "\n")
}
