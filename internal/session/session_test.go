package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paseohq/paseo/internal/agent"
	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/files"
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/internal/terminal"
	"github.com/paseohq/paseo/internal/voice"
	"github.com/paseohq/paseo/internal/worktree"
	"github.com/paseohq/paseo/pkg/protocol"
)

// frameSink captures every outbound frame.
type frameSink struct {
	frames chan []byte
}

func newFrameSink() *frameSink { return &frameSink{frames: make(chan []byte, 256)} }

func (f *frameSink) WriteFrame(data []byte) error {
	f.frames <- append([]byte(nil), data...)
	return nil
}

type fixture struct {
	session *Session
	sink    *frameSink
	agents  *agent.Manager
	store   *store.AgentStore

	// worktreeHome is the engine's home; paths under <home>/worktrees are
	// paseo-owned.
	worktreeHome string

	// Frames skipped while scanning for a response, kept for later asserts.
	buffered []protocol.Envelope
}

// next returns the next outbound envelope, buffered frames first.
func (fx *fixture) next(t *testing.T) protocol.Envelope {
	t.Helper()
	if len(fx.buffered) > 0 {
		env := fx.buffered[0]
		fx.buffered = fx.buffered[1:]
		return env
	}
	select {
	case data := <-fx.sink.frames:
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within deadline")
		return protocol.Envelope{}
	}
}

// response scans for the response to requestID, buffering pushed frames.
func (fx *fixture) response(t *testing.T, requestID string) protocol.Response {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case data := <-fx.sink.frames:
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("bad frame %s: %v", data, err)
			}
			if env.Type != protocol.MsgResponse || env.RequestID != requestID {
				fx.buffered = append(fx.buffered, env)
				continue
			}
			var resp protocol.Response
			if err := env.DecodePayload(&resp); err != nil {
				t.Fatalf("bad response payload: %v", err)
			}
			return resp
		case <-deadline:
			t.Fatalf("no response for %s", requestID)
		}
	}
}

func newFixture(t *testing.T, mock *provider.Mock, opts Options) *fixture {
	t.Helper()
	st, err := store.NewAgentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return newFixtureWithStore(t, st, mock, opts)
}

func newFixtureWithStore(t *testing.T, st *store.AgentStore, mock *provider.Mock, opts Options) *fixture {
	t.Helper()
	registry := provider.NewRegistry(config.Config{Agents: config.AgentsConfig{DefaultProvider: "mock"}})
	if mock != nil {
		registry.Register(mock)
	}
	agents, err := agent.NewManager(config.AgentsConfig{DefaultProvider: "mock"}, st, registry, agent.Options{})
	if err != nil {
		t.Fatal(err)
	}
	voiceStore, err := store.NewVoiceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pushStore, err := store.NewPushTokenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	wtHome := t.TempDir()
	router := NewRouter(Services{
		Info:       protocol.ServerInfo{ServerID: "srv_test", Version: "test"},
		Agents:     agents,
		Worktrees:  worktree.NewEngine(wtHome, config.WorktreesConfig{}, nil, nil),
		Files:      files.NewService(files.NewTokenVault(), nil),
		Terminals:  terminal.NewManager(config.TerminalConfig{}, nil),
		Voice:      voice.NewService(config.VoiceConfig{}, voiceStore, nil, nil),
		Providers:  registry,
		PushTokens: pushStore,
	}, nil)

	sink := newFrameSink()
	s := New("sess-test", sink, router, opts, nil)
	s.Start()
	t.Cleanup(s.Close)
	return &fixture{session: s, sink: sink, agents: agents, store: st, worktreeHome: wtHome}
}

func (fx *fixture) send(t *testing.T, msgType, requestID string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, requestID, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := fx.session.HandleFrame(data); err != nil {
		t.Fatalf("HandleFrame(%s): %v", msgType, err)
	}
}

func TestClientHelloHandshake(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	fx.send(t, protocol.MsgClientHello, "h1", protocol.ClientHello{ClientName: "test"})

	env := fx.next(t)
	if env.Type != protocol.MsgServerInfo || env.RequestID != "h1" {
		t.Fatalf("frame = %s/%s, want server_info/h1", env.Type, env.RequestID)
	}
	var info protocol.ServerInfo
	if err := env.DecodePayload(&info); err != nil {
		t.Fatal(err)
	}
	if info.ServerID != "srv_test" {
		t.Errorf("serverId = %s", info.ServerID)
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	fx := newFixture(t, nil, Options{})

	fx.send(t, protocol.MsgClientHeartbeat, "r1", protocol.ClientHeartbeatMsg{})
	if resp := fx.response(t, "r1"); !resp.Success {
		t.Fatalf("first heartbeat failed: %+v", resp.Error)
	}

	fx.send(t, protocol.MsgClientHeartbeat, "r1", protocol.ClientHeartbeatMsg{})
	resp := fx.response(t, "r1")
	if resp.Success || resp.Error == nil || resp.Error.Code != protocol.ErrDuplicateRequestID {
		t.Fatalf("duplicate reply = %+v, want duplicate_request_id", resp)
	}
}

func TestAmbiguousPrefixOverWire(t *testing.T) {
	st, err := store.NewAgentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"ab12cd000001", "ab12ef000002", "zz99xx000003"} {
		rec := &store.AgentRecord{ID: id, Provider: "mock", Cwd: "/tmp", Mode: protocol.ModeAsk, Lifecycle: protocol.LifecycleIdle}
		if err := st.Save(rec); err != nil {
			t.Fatal(err)
		}
	}
	fx := newFixtureWithStore(t, st, nil, Options{})

	fx.send(t, protocol.MsgFetchAgent, "q1", protocol.FetchAgentRequest{AgentID: "ab12"})
	resp := fx.response(t, "q1")
	if resp.Success || resp.Error == nil || resp.Error.Code != protocol.ErrAmbiguousIdentifier {
		t.Fatalf("resp = %+v, want ambiguous_identifier", resp)
	}
	if len(resp.Error.Candidates) != 2 {
		t.Errorf("candidates = %v, want 2", resp.Error.Candidates)
	}

	fx.send(t, protocol.MsgFetchAgent, "q2", protocol.FetchAgentRequest{AgentID: "ab12cd"})
	if resp := fx.response(t, "q2"); !resp.Success {
		t.Errorf("unique prefix failed: %+v", resp.Error)
	}
}

func TestUnknownVerbFailsBadRequest(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	fx.send(t, "no_such_verb_request", "u1", nil)
	resp := fx.response(t, "u1")
	if resp.Success || resp.Error == nil || resp.Error.Code != protocol.ErrBadRequest {
		t.Fatalf("resp = %+v, want bad_request", resp)
	}
}

func TestFireAndForgetProducesNoResponse(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	fx.send(t, protocol.MsgTerminalInput, "", protocol.TerminalInputMsg{TerminalID: "nope", DataB64: "aGk="})

	select {
	case data := <-fx.sink.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRateLimitClosesSession(t *testing.T) {
	fx := newFixture(t, nil, Options{RateRPS: 1, RateBurst: 1})

	env, _ := protocol.NewEnvelope(protocol.MsgClientHeartbeat, "rl1", nil)
	data, _ := json.Marshal(env)
	if err := fx.session.HandleFrame(data); err != nil {
		t.Fatalf("first frame rejected: %v", err)
	}
	env2, _ := protocol.NewEnvelope(protocol.MsgClientHeartbeat, "rl2", nil)
	data2, _ := json.Marshal(env2)
	if err := fx.session.HandleFrame(data2); err != ErrRateLimited {
		t.Fatalf("second frame err = %v, want ErrRateLimited", err)
	}
}

func TestAgentRunOverWire(t *testing.T) {
	mock := provider.NewMock(provider.MockRound{Text: "hello"})
	fx := newFixture(t, mock, Options{})

	fx.send(t, protocol.MsgCreateAgent, "c1", protocol.CreateAgentRequest{Cwd: t.TempDir(), Mode: protocol.ModeAuto})
	resp := fx.response(t, "c1")
	if !resp.Success {
		t.Fatalf("create failed: %+v", resp.Error)
	}
	var created protocol.CreateAgentResult
	if err := resp.DecodeResult(&created); err != nil {
		t.Fatal(err)
	}

	fx.send(t, protocol.MsgSendAgentMessage, "m1", protocol.SendAgentMessageRequest{AgentID: created.Agent.ID, Prompt: "hi"})
	var sent protocol.SendAgentMessageResult
	if resp := fx.response(t, "m1"); !resp.Success {
		t.Fatalf("send failed: %+v", resp.Error)
	} else if err := resp.DecodeResult(&sent); err != nil || sent.RunID == "" {
		t.Fatalf("runId = %q, %v", sent.RunID, err)
	}

	fx.send(t, protocol.MsgWaitForFinish, "w1", protocol.WaitForFinishRequest{AgentID: created.Agent.ID, TimeoutMs: 5000})
	var finished protocol.WaitForFinishResult
	if resp := fx.response(t, "w1"); !resp.Success {
		t.Fatalf("wait failed: %+v", resp.Error)
	} else if err := resp.DecodeResult(&finished); err != nil || finished.Status != protocol.LifecycleIdle {
		t.Fatalf("status = %+v, %v", finished, err)
	}

	// The session forwards the run's events as agent_event frames.
	sawStart, sawEnd := false, false
	for !sawEnd {
		env := fx.next(t)
		if env.Type != protocol.MsgAgentEvent {
			continue
		}
		var ev protocol.AgentEvent
		if err := env.DecodePayload(&ev); err != nil {
			t.Fatal(err)
		}
		switch ev.Type {
		case protocol.AgentEventRunStarted:
			sawStart = true
		case protocol.AgentEventRunEnded:
			sawEnd = true
			if ev.EndState != protocol.LifecycleIdle {
				t.Errorf("endState = %s", ev.EndState)
			}
		}
	}
	if !sawStart {
		t.Error("run_started never forwarded")
	}
}

func TestSubscribeAgentUpdatesReplay(t *testing.T) {
	fx := newFixture(t, nil, Options{})

	fx.send(t, protocol.MsgCreateAgent, "c1", protocol.CreateAgentRequest{Cwd: t.TempDir()})
	resp := fx.response(t, "c1")
	if !resp.Success {
		t.Fatalf("create failed: %+v", resp.Error)
	}
	var created protocol.CreateAgentResult
	if err := resp.DecodeResult(&created); err != nil {
		t.Fatal(err)
	}

	fx.send(t, protocol.MsgSubscribeAgentUpdates, "s1", protocol.SubscribeAgentUpdatesRequest{SubscriptionID: "sub1", Replay: true})
	if resp := fx.response(t, "s1"); !resp.Success {
		t.Fatalf("subscribe failed: %+v", resp.Error)
	}

	for {
		env := fx.next(t)
		if env.Type != protocol.MsgAgentUpdate {
			continue
		}
		var upd protocol.AgentUpdate
		if err := env.DecodePayload(&upd); err != nil {
			t.Fatal(err)
		}
		if upd.SubscriptionID == "sub1" && upd.Kind == protocol.AgentUpdateUpsert && upd.AgentID == created.Agent.ID {
			return
		}
	}
}
