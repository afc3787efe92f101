// Package worktree implements the git checkout engine: paseo-owned
// worktrees, commit/merge/push operations, and PR integration via gh.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

const killDelay = 5 * time.Second

type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// run executes one subprocess in dir. Cancellation sends SIGTERM and
// escalates to SIGKILL after killDelay.
func run(ctx context.Context, dir, name string, args ...string) (execResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := execResult{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), firstLine(res.Stderr))
		}
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "command failed"
	}
	return s
}

// git runs a git subcommand in dir, mapping "not a git repository" to the
// checkout taxonomy.
func git(ctx context.Context, dir string, args ...string) (execResult, error) {
	res, err := run(ctx, dir, "git", args...)
	if err != nil && strings.Contains(strings.ToLower(res.Stderr), "not a git repository") {
		return res, &protocol.Error{Code: protocol.CheckoutErrNotGitRepo, Message: fmt.Sprintf("%s is not inside a git repository", dir)}
	}
	return res, err
}
