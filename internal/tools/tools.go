// Package tools implements the builtin tools agents can call and the
// per-agent Toolbox that gates them by agent mode. MCP-provided tools join
// the same registry with an mcp_ name prefix.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/paseohq/paseo/internal/provider"
)

// maxOutputChars keeps tool output within provider-safe sizes.
const maxOutputChars = 30_000

// Tool is one callable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any

	// Mutating reports whether the tool can change state outside the
	// conversation; the mode policy keys off it.
	Mutating() bool

	// Execute runs the tool. A returned error becomes a tool-level failure
	// fed back to the model, never a run failure.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Describer lets a tool provide a human-readable permission prompt.
type Describer interface {
	Describe(args json.RawMessage) string
}

// Toolbox is the per-agent tool set, scoped to the agent's cwd. It
// implements provider.Toolbox.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolbox builds the builtin set for one agent working directory.
func NewToolbox(cwd string) *Toolbox {
	tb := &Toolbox{tools: make(map[string]Tool)}
	tb.Register(NewShellTool(cwd))
	tb.Register(NewReadFileTool(cwd))
	tb.Register(NewWriteFileTool(cwd))
	tb.Register(NewListDirTool(cwd))
	return tb
}

// Register adds a tool, replacing any previous tool of the same name.
func (tb *Toolbox) Register(t Tool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tools[t.Name()] = t
}

// Definitions lists tool schemas in stable name order.
func (tb *Toolbox) Definitions() []provider.ToolDefinition {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(tb.tools))
	for _, t := range tb.tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool, truncating oversized output.
func (tb *Toolbox) Execute(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	tb.mu.RLock()
	t, ok := tb.tools[name]
	tb.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return err.Error(), true
	}
	if len(out) > maxOutputChars {
		out = out[:maxOutputChars] + fmt.Sprintf("\n[output truncated at %d characters]", maxOutputChars)
	}
	if out == "" {
		out = "(no output)"
	}
	return out, false
}

// Describe summarizes a call for permission prompts.
func (tb *Toolbox) Describe(name string, args json.RawMessage) string {
	tb.mu.RLock()
	t, ok := tb.tools[name]
	tb.mu.RUnlock()
	if !ok {
		return name
	}
	if d, ok := t.(Describer); ok {
		return d.Describe(args)
	}
	return name
}
