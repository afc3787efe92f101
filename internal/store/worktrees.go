package store

import (
	"log/slog"
	"os"

	"github.com/paseohq/paseo/pkg/protocol"
)

// WorktreeStore tracks metadata for paseo-owned worktrees under
// paseoHome/worktrees/. Keys are derived from the worktree path.
type WorktreeStore struct {
	docs   *documentDir
	logger *slog.Logger
}

func NewWorktreeStore(dir string, logger *slog.Logger) (*WorktreeStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	docs, err := newDocumentDir(dir)
	if err != nil {
		return nil, err
	}
	return &WorktreeStore{docs: docs, logger: logger}, nil
}

func (s *WorktreeStore) Save(info protocol.WorktreeInfo) error {
	return s.docs.write(pathKey(info.Path), info)
}

func (s *WorktreeStore) Load(path string) (*protocol.WorktreeInfo, error) {
	var info protocol.WorktreeInfo
	if err := s.docs.read(pathKey(path), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *WorktreeStore) Remove(path string) error {
	return s.docs.remove(pathKey(path))
}

// All lists every tracked worktree, skipping corrupt entries.
func (s *WorktreeStore) All() ([]protocol.WorktreeInfo, error) {
	keys, err := s.docs.keys()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]protocol.WorktreeInfo, 0, len(keys))
	for _, key := range keys {
		var info protocol.WorktreeInfo
		if err := s.docs.read(key, &info); err != nil {
			s.logger.Warn("worktree_record_skipped", "key", key, "error", err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// pathKey flattens an absolute path into a stable document key.
func pathKey(path string) string {
	return sanitizeKey(path)
}
