package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

// AgentRecord is the persisted form of one managed agent: its config, last
// known status, provider persistence handle, and timeline snapshot.
type AgentRecord struct {
	ID       string            `json:"id"`
	Provider string            `json:"provider"`
	Model    string            `json:"model,omitempty"`
	Cwd      string            `json:"cwd"`
	Mode     string            `json:"mode"`
	Labels   map[string]string `json:"labels,omitempty"`

	Title        string `json:"title,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
	WorktreePath string `json:"worktreePath,omitempty"`

	Lifecycle         string `json:"lifecycle"`
	LastError         string `json:"lastError,omitempty"`
	Archived          bool   `json:"archived,omitempty"`
	RequiresAttention bool   `json:"requiresAttention,omitempty"`
	AttentionReason   string `json:"attentionReason,omitempty"`

	// Persistence is the provider's opaque resume handle (for paseo's
	// builtin providers, the serialized conversation).
	Persistence json.RawMessage `json:"persistence,omitempty"`

	Timeline []protocol.TimelineItem `json:"timeline,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AgentStore is the single writer for agents/<id>.json records.
type AgentStore struct {
	docs   *documentDir
	logger *slog.Logger

	mu       sync.Mutex
	deleting map[string]bool
}

// NewAgentStore opens (creating if needed) the agents directory.
func NewAgentStore(dir string, logger *slog.Logger) (*AgentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	docs, err := newDocumentDir(dir)
	if err != nil {
		return nil, err
	}
	return &AgentStore{docs: docs, logger: logger, deleting: make(map[string]bool)}, nil
}

// Save upserts a record. Saves racing a delete are dropped so the
// persistence hook can never resurrect a removed agent.
func (s *AgentStore) Save(rec *AgentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("store: agent record without id")
	}
	s.mu.Lock()
	blocked := s.deleting[rec.ID]
	s.mu.Unlock()
	if blocked {
		return nil
	}
	return s.docs.write(rec.ID, rec)
}

// Load reads one record. Missing agents return protocol-level not-found
// via os.ErrNotExist for the caller to translate.
func (s *AgentStore) Load(id string) (*AgentRecord, error) {
	var rec AgentRecord
	if err := s.docs.read(id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadAll reads every record, skipping (and logging) corrupt files so one
// bad document does not take the daemon down at boot.
func (s *AgentStore) LoadAll() ([]*AgentRecord, error) {
	keys, err := s.docs.keys()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*AgentRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Load(key)
		if err != nil {
			s.logger.Warn("agent_record_skipped", "id", key, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// BeginDelete blocks upserts for id and returns the final removal func.
// The returned func deletes the document and lifts the barrier.
func (s *AgentStore) BeginDelete(id string) func() error {
	s.mu.Lock()
	s.deleting[id] = true
	s.mu.Unlock()

	return func() error {
		err := s.docs.remove(id)
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
		return err
	}
}
