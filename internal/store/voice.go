package store

import (
	"os"
	"sort"
	"time"
)

// VoiceMessage is one turn of a voice conversation.
type VoiceMessage struct {
	Role      string    `json:"role"` // user|assistant
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// VoiceConversation is the persisted voice history document.
type VoiceConversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Messages  []VoiceMessage `json:"messages"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// VoiceStore persists voice-conversations/<id>.json.
type VoiceStore struct {
	docs *documentDir
}

func NewVoiceStore(dir string) (*VoiceStore, error) {
	docs, err := newDocumentDir(dir)
	if err != nil {
		return nil, err
	}
	return &VoiceStore{docs: docs}, nil
}

func (s *VoiceStore) Save(conv *VoiceConversation) error {
	return s.docs.write(conv.ID, conv)
}

func (s *VoiceStore) Load(id string) (*VoiceConversation, error) {
	var conv VoiceConversation
	if err := s.docs.read(id, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *VoiceStore) Delete(id string) error {
	return s.docs.remove(id)
}

// List returns all conversations, newest first, message bodies omitted.
func (s *VoiceStore) List() ([]*VoiceConversation, error) {
	keys, err := s.docs.keys()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*VoiceConversation, 0, len(keys))
	for _, key := range keys {
		conv, err := s.Load(key)
		if err != nil {
			continue
		}
		conv.Messages = nil
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
