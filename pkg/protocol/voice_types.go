package protocol

import "time"

// VoiceConversation is the persisted voice history document.
type VoiceConversation struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Turns     []VoiceTurn `json:"turns,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type VoiceTurn struct {
	Role string    `json:"role"` // user|assistant
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// RealtimeAudioChunkMsg is fire-and-forget; chunks route to the active
// dictation stream when DictationID is set, otherwise to the active voice
// conversation.
type RealtimeAudioChunkMsg struct {
	DictationID    string `json:"dictationId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	DataB64        string `json:"dataB64"`
}

type SetVoiceConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type LoadVoiceConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type LoadVoiceConversationResult struct {
	Conversation VoiceConversation `json:"conversation"`
}

type ListVoiceConversationsResult struct {
	Conversations []VoiceConversation `json:"conversations"` // turns omitted
}

type DeleteVoiceConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type StartDictationRequest struct {
	MimeType string `json:"mimeType,omitempty"` // default audio/webm
	Language string `json:"language,omitempty"`
}

type StartDictationResult struct {
	DictationID string `json:"dictationId"`
}

type DictationAudioChunkMsg struct {
	DictationID string `json:"dictationId"`
	DataB64     string `json:"dataB64"`
}

type FinishDictationRequest struct {
	DictationID string `json:"dictationId"`
}

type FinishDictationResult struct {
	Text string `json:"text"`
}

type CancelDictationRequest struct {
	DictationID string `json:"dictationId"`
}
