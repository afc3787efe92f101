package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

func newTestStore(t *testing.T) *AgentStore {
	t.Helper()
	s, err := NewAgentStore(filepath.Join(t.TempDir(), "agents"), nil)
	if err != nil {
		t.Fatalf("NewAgentStore: %v", err)
	}
	return s
}

func TestAgentRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := &AgentRecord{
		ID:        "ag_0123456789abcdef",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5-20250929",
		Cwd:       "/home/dev/project",
		Mode:      protocol.ModeAuto,
		Labels:    map[string]string{"team": "infra"},
		Title:     "Fix flaky relay test",
		Lifecycle: protocol.LifecycleIdle,
		Timeline: []protocol.TimelineItem{
			{Kind: protocol.ItemUserMessage, ID: "ti_1", CreatedAt: now,
				UserMessage: &protocol.UserMessageItem{Text: "hello"}},
			{Kind: protocol.ItemToolCall, ID: "ti_2", CreatedAt: now,
				ToolCall: &protocol.ToolCallItem{CallID: "call_1", Name: "shell", Status: protocol.ToolCallCompleted, Output: "ok"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec, got) {
		t.Errorf("round-trip mismatch:\nsaved  %+v\nloaded %+v", rec, got)
	}
}

func TestAgentStoreLoadAllSkipsCorrupt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agents")
	s, err := NewAgentStore(dir, nil)
	if err != nil {
		t.Fatalf("NewAgentStore: %v", err)
	}

	good := &AgentRecord{ID: "ag_good", Provider: "mock", Cwd: "/tmp", Mode: protocol.ModeAuto, Lifecycle: protocol.LifecycleIdle}
	if err := s.Save(good); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ag_bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}

	recs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "ag_good" {
		t.Errorf("LoadAll = %d records, want just ag_good", len(recs))
	}
}

func TestBeginDeleteBlocksUpserts(t *testing.T) {
	s := newTestStore(t)

	rec := &AgentRecord{ID: "ag_del", Provider: "mock", Cwd: "/tmp", Mode: protocol.ModeAuto, Lifecycle: protocol.LifecycleIdle}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	finish := s.BeginDelete(rec.ID)

	// A persistence hook racing the delete must not resurrect the record.
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save during delete: %v", err)
	}
	if err := finish(); err != nil {
		t.Fatalf("finish delete: %v", err)
	}

	if _, err := s.Load(rec.ID); !os.IsNotExist(err) {
		t.Errorf("Load after delete = %v, want not-exist", err)
	}

	// Barrier lifted: a fresh save works again.
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save after delete: %v", err)
	}
	if _, err := s.Load(rec.ID); err != nil {
		t.Errorf("Load after re-save: %v", err)
	}
}
