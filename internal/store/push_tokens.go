package store

import (
	"os"
	"sync"
	"time"
)

// PushToken is one registered client push target.
type PushToken struct {
	Platform     string    `json:"platform"` // ios|android|web
	Token        string    `json:"token"`
	RegisteredAt time.Time `json:"registeredAt"`
}

const pushTokensKey = "push-tokens"

// PushTokenStore keeps the daemon's registered push tokens in a single
// document, deduplicated by token value.
type PushTokenStore struct {
	docs *documentDir
	mu   sync.Mutex
}

func NewPushTokenStore(dir string) (*PushTokenStore, error) {
	docs, err := newDocumentDir(dir)
	if err != nil {
		return nil, err
	}
	return &PushTokenStore{docs: docs}, nil
}

func (s *PushTokenStore) Register(platform, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}
	for i, t := range tokens {
		if t.Token == token {
			tokens[i].Platform = platform
			tokens[i].RegisteredAt = time.Now().UTC()
			return s.docs.write(pushTokensKey, tokens)
		}
	}
	tokens = append(tokens, PushToken{Platform: platform, Token: token, RegisteredAt: time.Now().UTC()})
	return s.docs.write(pushTokensKey, tokens)
}

func (s *PushTokenStore) All() ([]PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *PushTokenStore) load() ([]PushToken, error) {
	var tokens []PushToken
	if err := s.docs.read(pushTokensKey, &tokens); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return tokens, nil
}
