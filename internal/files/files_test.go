package files

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

func TestExploreListAndRead(t *testing.T) {
	cwd := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cwd, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cwd, "src", "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewTokenVault(), nil)

	list, err := svc.Explore(cwd, protocol.FileExplorerRequest{Op: protocol.FileExplorerList})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Name != "src" || !list.Entries[0].IsDir {
		t.Errorf("entries = %+v", list.Entries)
	}

	read, err := svc.Explore(cwd, protocol.FileExplorerRequest{Op: protocol.FileExplorerRead, Path: "src/main.go"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content, _ := base64.StdEncoding.DecodeString(read.ContentB64)
	if string(content) != "package main" {
		t.Errorf("content = %q", content)
	}
}

func TestExploreRejectsEscape(t *testing.T) {
	svc := NewService(NewTokenVault(), nil)
	cwd := t.TempDir()

	_, err := svc.Explore(cwd, protocol.FileExplorerRequest{Op: protocol.FileExplorerRead, Path: "../../etc/passwd"})
	perr, ok := err.(*protocol.Error)
	if !ok || perr.Code != protocol.ErrNotAllowed {
		t.Fatalf("err = %v, want not_allowed", err)
	}
}

func TestDownloadTokenSingleUse(t *testing.T) {
	cwd := t.TempDir()
	file := filepath.Join(cwd, "artifact.txt")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	vault := NewTokenVault()
	svc := NewService(vault, nil)

	tok, err := svc.IssueDownloadToken(cwd, protocol.FileDownloadTokenRequest{Path: "artifact.txt"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(tok.ExpiresAt) > tokenTTL || time.Until(tok.ExpiresAt) <= 0 {
		t.Errorf("expiry %v outside ttl window", tok.ExpiresAt)
	}

	path, err := vault.Redeem(tok.Token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if filepath.Base(path) != "artifact.txt" {
		t.Errorf("redeemed path = %s", path)
	}

	// Second redemption fails: tokens are single use.
	if _, err := vault.Redeem(tok.Token); err == nil {
		t.Error("token redeemed twice")
	}
	if _, err := vault.Redeem("bogus"); err == nil {
		t.Error("unknown token redeemed")
	}
}

func TestSplitDiff(t *testing.T) {
	raw := "diff --git a/one.go b/one.go\n" +
		"index 111..222 100644\n" +
		"--- a/one.go\n" +
		"+++ b/one.go\n" +
		"@@ -1,2 +1,2 @@\n" +
		"-old line\n" +
		"+new line\n" +
		"+another\n" +
		"diff --git a/two.txt b/two.txt\n" +
		"--- a/two.txt\n" +
		"+++ b/two.txt\n" +
		"@@ -1 +0,0 @@\n" +
		"-gone\n"

	files := splitDiff(raw)
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].path != "one.go" || files[0].additions != 2 || files[0].deletions != 1 {
		t.Errorf("one.go = %+v", files[0])
	}
	if files[1].path != "two.txt" || files[1].additions != 0 || files[1].deletions != 1 {
		t.Errorf("two.txt = %+v", files[1])
	}
}

func TestProjectIconMissing(t *testing.T) {
	svc := NewService(NewTokenVault(), nil)
	res, err := svc.ProjectIcon(t.TempDir())
	if err != nil || res.Found {
		t.Errorf("icon = %+v, %v; want not found", res, err)
	}
}
