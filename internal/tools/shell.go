package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

const shellTimeout = 2 * time.Minute

// ShellTool executes a command with `sh -c` inside the agent's cwd.
type ShellTool struct {
	cwd string
}

func NewShellTool(cwd string) *ShellTool {
	return &ShellTool{cwd: cwd}
}

func (t *ShellTool) Name() string  { return "shell" }
func (t *ShellTool) Mutating() bool { return true }

func (t *ShellTool) Description() string {
	return "Execute a shell command in the working directory and return its output"
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional subdirectory to run in, relative to the working directory",
			},
		},
		"required": []string{"command"},
	}
}

type shellArgs struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

func (t *ShellTool) Describe(args json.RawMessage) string {
	var a shellArgs
	if json.Unmarshal(args, &a) != nil || a.Command == "" {
		return "run a shell command"
	}
	return "run `" + a.Command + "`"
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("shell: bad arguments: %w", err)
	}
	if a.Command == "" {
		return "", fmt.Errorf("shell: command is required")
	}

	cwd := t.cwd
	if a.WorkingDir != "" {
		resolved, err := containPath(t.cwd, a.WorkingDir)
		if err != nil {
			return "", fmt.Errorf("shell: %w", err)
		}
		cwd = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("shell: command timed out after %s", shellTimeout)
		}
		if out == "" {
			out = err.Error()
		}
		return "", fmt.Errorf("%s", out)
	}
	return out, nil
}
