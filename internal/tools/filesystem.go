package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 512 * 1024

// containPath resolves rel against root and rejects escapes. Symlinked
// roots are resolved first so the prefix check compares real paths.
func containPath(root, rel string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	joined := rel
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(realRoot, rel)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if abs != realRoot && !strings.HasPrefix(abs, realRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return abs, nil
}

// ReadFileTool reads a file inside the agent's cwd.
type ReadFileTool struct {
	cwd string
}

func NewReadFileTool(cwd string) *ReadFileTool { return &ReadFileTool{cwd: cwd} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Mutating() bool      { return false }
func (t *ReadFileTool) Description() string { return "Read a file from the working directory" }

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path relative to the working directory"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}
	path, err := containPath(t.cwd, a.Path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("read_file: %s is %d bytes, limit %d", a.Path, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

// WriteFileTool writes a file inside the agent's cwd, creating parent
// directories as needed.
type WriteFileTool struct {
	cwd string
}

func NewWriteFileTool(cwd string) *WriteFileTool { return &WriteFileTool{cwd: cwd} }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Mutating() bool      { return true }
func (t *WriteFileTool) Description() string { return "Write content to a file in the working directory" }

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path relative to the working directory"},
			"content": map[string]any{"type": "string", "description": "Full file content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Describe(args json.RawMessage) string {
	var a struct {
		Path string `json:"path"`
	}
	if json.Unmarshal(args, &a) != nil || a.Path == "" {
		return "write a file"
	}
	return "write " + a.Path
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Path == "" {
		return "", fmt.Errorf("write_file: path is required")
	}
	path, err := containPath(t.cwd, a.Path)
	if err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), nil
}

// ListDirTool lists a directory inside the agent's cwd.
type ListDirTool struct {
	cwd string
}

func NewListDirTool(cwd string) *ListDirTool { return &ListDirTool{cwd: cwd} }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Mutating() bool      { return false }
func (t *ListDirTool) Description() string { return "List the entries of a directory in the working directory" }

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path relative to the working directory (default: the root)"},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(args, &a)
	if a.Path == "" {
		a.Path = "."
	}
	path, err := containPath(t.cwd, a.Path)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
