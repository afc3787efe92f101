package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/paseohq/paseo/pkg/protocol"
)

func startRelay(t *testing.T, cfg Config) string {
	t.Helper()
	srv := NewServer(cfg, slog.Default())
	addr, stop := srv.StartTestServer(t)
	t.Cleanup(stop)
	return addr
}

func dialAttach(t *testing.T, ctx context.Context, addr, attachLine string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(attachLine)); err != nil {
		t.Fatalf("attach write: %v", err)
	}
	_, ack, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("attach ack: %v", err)
	}
	if string(ack) != protocol.RelayAttachOK {
		t.Fatalf("attach ack = %q, want %q", ack, protocol.RelayAttachOK)
	}
	return conn
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

func TestForwardBothWays(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := startRelay(t, Config{})

	daemon := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	defer daemon.Close(websocket.StatusNormalClosure, "")
	client := dialAttach(t, ctx, addr, protocol.RelayJoinPrefix+"sess1")
	defer client.Close(websocket.StatusNormalClosure, "")

	// Daemon frames broadcast to clients verbatim.
	if err := daemon.Write(ctx, websocket.MessageText, []byte(`{"type":"server_info"}`)); err != nil {
		t.Fatalf("daemon write: %v", err)
	}
	_, got, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != `{"type":"server_info"}` {
		t.Errorf("client got %q", got)
	}

	// Client frames reach the daemon wrapped with an ephemeral id.
	if err := client.Write(ctx, websocket.MessageText, []byte(`{"type":"client_hello"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}
	_, raw, err := daemon.Read(ctx)
	if err != nil {
		t.Fatalf("daemon read: %v", err)
	}
	var cf protocol.ClientFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		t.Fatalf("unmarshal wrap: %v (raw %q)", err, raw)
	}
	if cf.ClientID == "" {
		t.Errorf("wrap missing clientId: %q", raw)
	}
	if string(cf.Data) != `{"type":"client_hello"}` {
		t.Errorf("wrap data = %q", cf.Data)
	}
}

func TestJoinWithoutDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr := startRelay(t, Config{})

	conn, _, err := websocket.Dial(ctx, "ws://"+addr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(protocol.RelayJoinPrefix+"ghost")); err != nil {
		t.Fatalf("join write: %v", err)
	}
	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatalf("join succeeded without a daemon")
	}
	if reason := closeReason(err); reason != protocol.CloseInvalidSession {
		t.Errorf("close reason = %q, want %q", reason, protocol.CloseInvalidSession)
	}
}

func TestSessionReplaced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := startRelay(t, Config{})

	older := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	newer := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	defer newer.Close(websocket.StatusNormalClosure, "")

	_, _, err := older.Read(ctx)
	if err == nil {
		t.Fatalf("older registration still readable")
	}
	if reason := closeReason(err); reason != protocol.CloseSessionReplaced {
		t.Errorf("close reason = %q, want %q", reason, protocol.CloseSessionReplaced)
	}

	// The session keeps working under the newer daemon.
	client := dialAttach(t, ctx, addr, protocol.RelayJoinPrefix+"sess1")
	defer client.Close(websocket.StatusNormalClosure, "")
	if err := newer.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("newer daemon write: %v", err)
	}
	_, got, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("client got %q", got)
	}
}

func TestClientGoneNotifiesDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := startRelay(t, Config{})

	daemon := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	defer daemon.Close(websocket.StatusNormalClosure, "")
	client := dialAttach(t, ctx, addr, protocol.RelayJoinPrefix+"sess1")

	// Learn the client id from a normal frame first.
	if err := client.Write(ctx, websocket.MessageText, []byte(`{}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}
	_, raw, err := daemon.Read(ctx)
	if err != nil {
		t.Fatalf("daemon read: %v", err)
	}
	var first protocol.ClientFrame
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	client.Close(websocket.StatusNormalClosure, "bye")

	_, raw, err = daemon.Read(ctx)
	if err != nil {
		t.Fatalf("daemon read gone: %v", err)
	}
	var gone protocol.ClientFrame
	if err := json.Unmarshal(raw, &gone); err != nil {
		t.Fatalf("unmarshal gone: %v", err)
	}
	if !gone.Gone || gone.ClientID != first.ClientID {
		t.Errorf("gone frame = %+v, want gone for %s", gone, first.ClientID)
	}
}

func TestIdleSessionGC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := NewServer(Config{IdleTTL: 200 * time.Millisecond}, slog.Default())
	addr, stop := srv.StartTestServer(t)
	t.Cleanup(stop)

	daemon := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	if srv.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d, want 1", srv.SessionCount())
	}
	daemon.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("session not garbage collected, count = %d", srv.SessionCount())
}

func TestSlowClientDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// High-water mark below the frame size, so one undrained frame is
	// already an overflow.
	addr := startRelay(t, Config{SendQueue: 2, HighWaterBytes: 2048})

	daemon := dialAttach(t, ctx, addr, protocol.RelayRegisterPrefix+"sess1")
	defer daemon.Close(websocket.StatusNormalClosure, "")
	client := dialAttach(t, ctx, addr, protocol.RelayJoinPrefix+"sess1")
	defer client.CloseNow()

	payload := strings.Repeat("x", 4096)
	for i := 0; i < 4; i++ {
		if err := daemon.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
			t.Fatalf("daemon write %d: %v", i, err)
		}
	}

	// The overflow drops the client and the daemon hears about it.
	for {
		_, raw, err := daemon.Read(ctx)
		if err != nil {
			t.Fatalf("daemon read: %v", err)
		}
		var cf protocol.ClientFrame
		if err := json.Unmarshal(raw, &cf); err != nil {
			continue
		}
		if cf.Gone {
			return
		}
	}
}
