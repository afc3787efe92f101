package voice

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/pkg/protocol"
)

type fakeSTT struct {
	gotBytes int
	gotMime  string
	text     string
}

func (f *fakeSTT) Transcribe(_ context.Context, audio []byte, mimeType, _ string) (string, error) {
	f.gotBytes = len(audio)
	f.gotMime = mimeType
	return f.text, nil
}

func newTestService(t *testing.T, stt Transcriber) *Service {
	t.Helper()
	st, err := store.NewVoiceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewService(config.VoiceConfig{Enabled: true}, st, stt, nil)
}

func TestDictationRoundTrip(t *testing.T) {
	stt := &fakeSTT{text: "hello world"}
	svc := newTestService(t, stt)

	started, err := svc.StartDictation(protocol.StartDictationRequest{MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("StartDictation: %v", err)
	}

	chunk := base64.StdEncoding.EncodeToString([]byte("audio-bytes-1"))
	svc.AppendChunk(started.DictationID, chunk)
	svc.AppendChunk(started.DictationID, base64.StdEncoding.EncodeToString([]byte("audio-bytes-2")))

	res, err := svc.FinishDictation(context.Background(), started.DictationID)
	if err != nil {
		t.Fatalf("FinishDictation: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if stt.gotBytes != len("audio-bytes-1")+len("audio-bytes-2") || stt.gotMime != "audio/wav" {
		t.Errorf("stt saw %d bytes, mime %s", stt.gotBytes, stt.gotMime)
	}

	// The session is consumed; finishing again fails.
	if _, err := svc.FinishDictation(context.Background(), started.DictationID); err == nil {
		t.Error("finished a consumed dictation")
	}
}

func TestCancelDictationDiscards(t *testing.T) {
	svc := newTestService(t, &fakeSTT{})
	started, err := svc.StartDictation(protocol.StartDictationRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelDictation(started.DictationID); err != nil {
		t.Fatalf("CancelDictation: %v", err)
	}
	if err := svc.CancelDictation(started.DictationID); err == nil {
		t.Error("cancelled twice")
	}
}

func TestDictationDisabledWithoutSTT(t *testing.T) {
	st, err := store.NewVoiceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(config.VoiceConfig{Enabled: true}, st, nil, nil)
	if _, err := svc.StartDictation(protocol.StartDictationRequest{}); err == nil {
		t.Error("dictation started without a transcriber")
	}
}

func TestConversationCRUD(t *testing.T) {
	svc := newTestService(t, &fakeSTT{})

	if err := svc.SetActiveConversation("conv1"); err != nil {
		t.Fatalf("SetActiveConversation: %v", err)
	}
	loaded, err := svc.LoadConversation("conv1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if loaded.Conversation.ID != "conv1" {
		t.Errorf("conversation = %+v", loaded.Conversation)
	}

	list, err := svc.ListConversations()
	if err != nil || len(list.Conversations) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	if err := svc.DeleteConversation("conv1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := svc.LoadConversation("conv1"); err == nil {
		t.Error("conversation loadable after delete")
	}
}
