package session

import (
	"path/filepath"
	"testing"

	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/pkg/protocol"
)

func TestWorktreeArchiveRefusesUnownedPathOverWire(t *testing.T) {
	fx := newFixture(t, nil, Options{})

	fx.send(t, protocol.MsgWorktreeArchive, "a1", protocol.WorktreeArchiveRequest{WorktreePath: "/tmp/notpaseo"})
	resp := fx.response(t, "a1")
	if resp.Success || resp.Error == nil || resp.Error.Code != protocol.CheckoutErrNotAllowed {
		t.Fatalf("resp = %+v, want %s", resp, protocol.CheckoutErrNotAllowed)
	}
}

func TestWorktreeArchiveRemovesResidentAgents(t *testing.T) {
	mock := provider.NewMock()
	fx := newFixture(t, mock, Options{})
	wt := filepath.Join(fx.worktreeHome, "worktrees", "fix-1")

	// One agent living inside the worktree without having been placed
	// there, one bystander elsewhere.
	fx.send(t, protocol.MsgCreateAgent, "c1", protocol.CreateAgentRequest{Cwd: filepath.Join(wt, "svc")})
	resp := fx.response(t, "c1")
	if !resp.Success {
		t.Fatalf("create resident: %+v", resp.Error)
	}
	var resident protocol.CreateAgentResult
	if err := resp.DecodeResult(&resident); err != nil {
		t.Fatal(err)
	}
	fx.send(t, protocol.MsgCreateAgent, "c2", protocol.CreateAgentRequest{Cwd: t.TempDir()})
	resp = fx.response(t, "c2")
	if !resp.Success {
		t.Fatalf("create bystander: %+v", resp.Error)
	}
	var bystander protocol.CreateAgentResult
	if err := resp.DecodeResult(&bystander); err != nil {
		t.Fatal(err)
	}

	// The path is owned, so the request clears the ownership gate and
	// removes the resident agent; the git removal itself fails since no
	// repo backs the directory.
	fx.send(t, protocol.MsgWorktreeArchive, "a1", protocol.WorktreeArchiveRequest{WorktreePath: wt})
	resp = fx.response(t, "a1")
	if resp.Success {
		t.Fatal("archive succeeded without a git worktree behind the path")
	}
	if resp.Error.Code == protocol.CheckoutErrNotAllowed {
		t.Fatalf("owned path refused: %+v", resp.Error)
	}

	if _, _, err := fx.agents.Fetch(resident.Agent.ID); err == nil {
		t.Error("agent living inside the worktree survived the archive")
	}
	if _, _, err := fx.agents.Fetch(bystander.Agent.ID); err != nil {
		t.Errorf("bystander agent deleted: %v", err)
	}
}

func TestPathWithin(t *testing.T) {
	cases := []struct {
		root, p string
		want    bool
	}{
		{"/repo/.paseo/worktrees/fix", "/repo/.paseo/worktrees/fix", true},
		{"/repo/.paseo/worktrees/fix", "/repo/.paseo/worktrees/fix/sub/dir", true},
		{"/repo/.paseo/worktrees/fix", "/repo/.paseo/worktrees/fix/../fix/sub", true},
		{"/repo/.paseo/worktrees/fix", "/repo/.paseo/worktrees/fixup", false},
		{"/repo/.paseo/worktrees/fix", "/repo", false},
		{"/repo/.paseo/worktrees/fix", "", false},
		{"", "/anything", false},
	}
	for _, tc := range cases {
		if got := pathWithin(tc.root, tc.p); got != tc.want {
			t.Errorf("pathWithin(%q, %q) = %v, want %v", tc.root, tc.p, got, tc.want)
		}
	}
}
