// Package voice implements dictation (audio chunks in, transcript out)
// and persisted voice conversations.
package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

const maxDictationBytes = 32 << 20 // 32 MiB of assembled audio

// Transcriber converts an assembled audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// Service owns dictation sessions and voice conversation state for one
// daemon.
type Service struct {
	cfg    config.VoiceConfig
	store  *store.VoiceStore
	stt    Transcriber
	logger *slog.Logger

	mu         sync.Mutex
	dictations map[string]*dictation
	activeConv string
}

type dictation struct {
	id       string
	mimeType string
	language string
	audio    []byte
}

func NewService(cfg config.VoiceConfig, st *store.VoiceStore, stt Transcriber, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		store:      st,
		stt:        stt,
		logger:     logger,
		dictations: make(map[string]*dictation),
	}
}

// Enabled reports whether voice verbs should be served at all.
func (s *Service) Enabled() bool { return s.cfg.Enabled && s.stt != nil }

// StartDictation opens a dictation session collecting audio chunks.
func (s *Service) StartDictation(req protocol.StartDictationRequest) (*protocol.StartDictationResult, error) {
	if !s.Enabled() {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: "voice is not enabled"}
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	d := &dictation{id: "dict_" + uuid.NewString(), mimeType: mimeType, language: req.Language}
	s.mu.Lock()
	s.dictations[d.id] = d
	s.mu.Unlock()
	s.logger.Info("dictation_started", "dictation_id", d.id, "mime_type", mimeType)
	return &protocol.StartDictationResult{DictationID: d.id}, nil
}

// AppendChunk adds audio to a dictation. Fire-and-forget from the wire;
// errors are logged only.
func (s *Service) AppendChunk(dictationID, dataB64 string) {
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		s.logger.Debug("dictation_chunk_bad_base64", "dictation_id", dictationID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dictations[dictationID]
	if !ok {
		s.logger.Debug("dictation_chunk_unknown", "dictation_id", dictationID)
		return
	}
	if len(d.audio)+len(data) > maxDictationBytes {
		s.logger.Warn("dictation_overflow", "dictation_id", dictationID)
		return
	}
	d.audio = append(d.audio, data...)
}

// RouteRealtimeChunk routes a realtime_audio_chunk to the named dictation,
// falling back to the active conversation's implicit dictation.
func (s *Service) RouteRealtimeChunk(msg protocol.RealtimeAudioChunkMsg) {
	if msg.DictationID != "" {
		s.AppendChunk(msg.DictationID, msg.DataB64)
		return
	}
	s.logger.Debug("realtime_chunk_without_target", "conversation_id", msg.ConversationID)
}

// FinishDictation closes the session and transcribes the assembled audio.
func (s *Service) FinishDictation(ctx context.Context, dictationID string) (*protocol.FinishDictationResult, error) {
	s.mu.Lock()
	d, ok := s.dictations[dictationID]
	if ok {
		delete(s.dictations, dictationID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("no dictation %s", dictationID)}
	}
	if len(d.audio) == 0 {
		return &protocol.FinishDictationResult{Text: ""}, nil
	}

	text, err := s.stt.Transcribe(ctx, d.audio, d.mimeType, d.language)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrInternal, Message: "transcription failed: " + err.Error()}
	}
	s.logger.Info("dictation_finished", "dictation_id", dictationID, "bytes", len(d.audio), "chars", len(text))
	return &protocol.FinishDictationResult{Text: text}, nil
}

// CancelDictation discards a session's audio.
func (s *Service) CancelDictation(dictationID string) error {
	s.mu.Lock()
	_, ok := s.dictations[dictationID]
	delete(s.dictations, dictationID)
	s.mu.Unlock()
	if !ok {
		return &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("no dictation %s", dictationID)}
	}
	s.logger.Info("dictation_cancelled", "dictation_id", dictationID)
	return nil
}

// SetActiveConversation selects (creating if needed) the conversation
// realtime audio routes to.
func (s *Service) SetActiveConversation(id string) error {
	if id == "" {
		s.mu.Lock()
		s.activeConv = ""
		s.mu.Unlock()
		return nil
	}
	if _, err := s.store.Load(id); err != nil {
		now := time.Now().UTC()
		conv := &store.VoiceConversation{ID: id, CreatedAt: now, UpdatedAt: now}
		if err := s.store.Save(conv); err != nil {
			return fmt.Errorf("voice: create conversation: %w", err)
		}
	}
	s.mu.Lock()
	s.activeConv = id
	s.mu.Unlock()
	return nil
}

// LoadConversation returns one conversation with its turns.
func (s *Service) LoadConversation(id string) (*protocol.LoadVoiceConversationResult, error) {
	conv, err := s.store.Load(id)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Message: fmt.Sprintf("no conversation %s", id)}
	}
	return &protocol.LoadVoiceConversationResult{Conversation: toWire(conv)}, nil
}

// ListConversations returns every conversation, turns omitted.
func (s *Service) ListConversations() (*protocol.ListVoiceConversationsResult, error) {
	convs, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("voice: list conversations: %w", err)
	}
	result := &protocol.ListVoiceConversationsResult{Conversations: make([]protocol.VoiceConversation, 0, len(convs))}
	for _, conv := range convs {
		result.Conversations = append(result.Conversations, toWire(conv))
	}
	return result, nil
}

// DeleteConversation removes a conversation document.
func (s *Service) DeleteConversation(id string) error {
	s.mu.Lock()
	if s.activeConv == id {
		s.activeConv = ""
	}
	s.mu.Unlock()
	return s.store.Delete(id)
}

func toWire(conv *store.VoiceConversation) protocol.VoiceConversation {
	out := protocol.VoiceConversation{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	for _, msg := range conv.Messages {
		out.Turns = append(out.Turns, protocol.VoiceTurn{Role: msg.Role, Text: msg.Text, At: msg.CreatedAt})
	}
	return out
}
