package worktree

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/pkg/protocol"
)

func TestValidateRef(t *testing.T) {
	valid := []string{"feature/login", "fix-123", "v1.2.3", "user/deep/branch"}
	for _, name := range valid {
		if err := validateRef(name); err != nil {
			t.Errorf("validateRef(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "has space", "dot..dot", "ref@{0}", "semi;colon", "tick`", "dollar$"}
	for _, name := range invalid {
		if err := validateRef(name); err == nil {
			t.Errorf("validateRef(%q) accepted", name)
		}
	}
}

func TestParseStatus(t *testing.T) {
	out := "## feature/login...origin/feature/login [ahead 2, behind 1]\n" +
		"M  staged.go\n" +
		" M unstaged.go\n" +
		"MM both.go\n" +
		"?? new.txt\n" +
		"R  old.go -> renamed.go\n"

	got := parseStatus(out)
	if got.Branch != "feature/login" || got.Ahead != 2 || got.Behind != 1 {
		t.Errorf("branch header = %s/%d/%d", got.Branch, got.Ahead, got.Behind)
	}
	if !got.Dirty {
		t.Error("dirty not set")
	}
	if want := []string{"staged.go", "both.go", "renamed.go"}; !reflect.DeepEqual(got.Staged, want) {
		t.Errorf("staged = %v, want %v", got.Staged, want)
	}
	if want := []string{"unstaged.go", "both.go"}; !reflect.DeepEqual(got.Unstaged, want) {
		t.Errorf("unstaged = %v, want %v", got.Unstaged, want)
	}
	if want := []string{"new.txt"}; !reflect.DeepEqual(got.Untracked, want) {
		t.Errorf("untracked = %v, want %v", got.Untracked, want)
	}
}

func TestParseStatusClean(t *testing.T) {
	got := parseStatus("## main...origin/main\n")
	if got.Dirty || got.Branch != "main" || got.Ahead != 0 {
		t.Errorf("clean status = %+v", got)
	}
}

func TestIsOwned(t *testing.T) {
	home := t.TempDir()
	e := NewEngine(home, config.WorktreesConfig{}, nil, nil)

	cases := []struct {
		path string
		want bool
	}{
		{"/repo/.paseo/worktrees/fix-login", true},
		{"/repo/.paseo/worktrees/fix-login/sub/dir", true},
		{filepath.Join(home, "worktrees", "x"), true},
		{"/tmp/notpaseo", false},
		{"/repo/src", false},
		{"/repo/.paseo", false},
	}
	for _, tc := range cases {
		if got := e.IsOwned(tc.path); got != tc.want {
			t.Errorf("IsOwned(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestArchiveRefusesUnownedPath(t *testing.T) {
	e := NewEngine(t.TempDir(), config.WorktreesConfig{}, nil, nil)

	err := e.Archive(context.Background(), "/tmp/notpaseo")
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != protocol.CheckoutErrNotAllowed {
		t.Fatalf("Archive err = %v, want %s", err, protocol.CheckoutErrNotAllowed)
	}
}

func TestSummarizeChecks(t *testing.T) {
	if got := summarizeChecks(nil); got != "" {
		t.Errorf("no checks = %q", got)
	}
	passing := []checkItem{{Conclusion: "SUCCESS", Status: "COMPLETED"}}
	if got := summarizeChecks(passing); got != "passing" {
		t.Errorf("passing = %q", got)
	}
	pending := []checkItem{{Status: "IN_PROGRESS"}}
	if got := summarizeChecks(pending); got != "pending" {
		t.Errorf("pending = %q", got)
	}
	failing := []checkItem{{Conclusion: "SUCCESS", Status: "COMPLETED"}, {Conclusion: "FAILURE", Status: "COMPLETED"}}
	if got := summarizeChecks(failing); got != "failing" {
		t.Errorf("failing = %q", got)
	}
}
