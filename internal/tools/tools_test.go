package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/pkg/protocol"
)

func TestContainPathRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		rel  string
		ok   bool
	}{
		{"file.txt", true},
		{"sub/dir/file.txt", true},
		{".", true},
		{"..", false},
		{"../outside.txt", false},
		{"sub/../../outside.txt", false},
	}
	for _, tc := range cases {
		_, err := containPath(root, tc.rel)
		if (err == nil) != tc.ok {
			t.Errorf("containPath(%q): err = %v, want ok=%v", tc.rel, err, tc.ok)
		}
	}
}

func TestReadWriteListRoundTrip(t *testing.T) {
	root := t.TempDir()
	tb := NewToolbox(root)
	ctx := context.Background()

	out, isErr := tb.Execute(ctx, "write_file", json.RawMessage(`{"path":"notes/hello.txt","content":"hi there"}`))
	if isErr {
		t.Fatalf("write_file failed: %s", out)
	}

	out, isErr = tb.Execute(ctx, "read_file", json.RawMessage(`{"path":"notes/hello.txt"}`))
	if isErr || out != "hi there" {
		t.Fatalf("read_file = %q (err=%v), want %q", out, isErr, "hi there")
	}

	out, isErr = tb.Execute(ctx, "list_dir", json.RawMessage(`{"path":"notes"}`))
	if isErr || out != "hello.txt" {
		t.Fatalf("list_dir = %q (err=%v), want hello.txt", out, isErr)
	}
}

func TestReadFileOutsideRootFails(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	tb := NewToolbox(root)

	args, _ := json.Marshal(map[string]string{"path": secret})
	out, isErr := tb.Execute(context.Background(), "read_file", args)
	if !isErr {
		t.Fatalf("read of %s outside root succeeded: %q", secret, out)
	}
}

func TestShellCapturesStderrAndStatus(t *testing.T) {
	tb := NewToolbox(t.TempDir())
	ctx := context.Background()

	out, isErr := tb.Execute(ctx, "shell", json.RawMessage(`{"command":"echo out; echo err >&2"}`))
	if isErr {
		t.Fatalf("shell failed: %s", out)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("shell output %q missing stdout or stderr", out)
	}

	out, isErr = tb.Execute(ctx, "shell", json.RawMessage(`{"command":"exit 3"}`))
	if !isErr {
		t.Errorf("failing command reported success: %q", out)
	}
}

func TestExecuteTruncatesOversizedOutput(t *testing.T) {
	tb := &Toolbox{tools: map[string]Tool{}}
	tb.Register(staticTool{name: "big", out: strings.Repeat("x", maxOutputChars+100)})

	out, isErr := tb.Execute(context.Background(), "big", nil)
	if isErr {
		t.Fatal("static tool reported error")
	}
	if len(out) > maxOutputChars+100 || !strings.Contains(out, "truncated") {
		t.Errorf("output not truncated, len=%d", len(out))
	}
}

func TestDecideByMode(t *testing.T) {
	tb := NewToolbox(t.TempDir())
	cases := []struct {
		mode, tool, want string
	}{
		{protocol.ModeAuto, "read_file", provider.DecisionAllow},
		{protocol.ModeAuto, "write_file", provider.DecisionAllow},
		{protocol.ModeAuto, "shell", provider.DecisionAsk},
		{protocol.ModeAsk, "read_file", provider.DecisionAllow},
		{protocol.ModeAsk, "write_file", provider.DecisionAsk},
		{protocol.ModeAsk, "shell", provider.DecisionAsk},
		{protocol.ModeReadonly, "read_file", provider.DecisionAllow},
		{protocol.ModeReadonly, "write_file", provider.DecisionDeny},
		{protocol.ModeReadonly, "shell", provider.DecisionDeny},
		// unknown tools count as mutating
		{protocol.ModeReadonly, "mcp_github_create_issue", provider.DecisionDeny},
		{protocol.ModeAsk, "mcp_github_create_issue", provider.DecisionAsk},
	}
	for _, tc := range cases {
		if got := tb.Decide(tc.mode, tc.tool); got != tc.want {
			t.Errorf("Decide(%s, %s) = %s, want %s", tc.mode, tc.tool, got, tc.want)
		}
	}
}

type staticTool struct {
	name string
	out  string
}

func (s staticTool) Name() string                { return s.name }
func (s staticTool) Description() string         { return "static" }
func (s staticTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (s staticTool) Mutating() bool              { return false }
func (s staticTool) Execute(context.Context, json.RawMessage) (string, error) {
	return s.out, nil
}
