package dialer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paseohq/paseo/pkg/protocol"
)

func fakeConn(cand Connection, serverID string) *Conn {
	return &Conn{
		cand:    cand,
		info:    protocol.ServerInfo{ServerID: serverID, Version: "test"},
		pending: make(map[string]chan protocol.Response),
		events:  make(chan protocol.Envelope, connEventBuffer),
		done:    make(chan struct{}),
	}
}

func seedProfile(t *testing.T, reg *Registry, serverID string, conns ...Connection) *HostProfile {
	t.Helper()
	p := &HostProfile{ServerID: serverID, Connections: conns}
	if err := reg.Save(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	return p
}

func TestConnectDirectWinsWhileRelayHangs(t *testing.T) {
	reg := testRegistry(t)
	direct := NewConnection(ConnDirect, "127.0.0.1:8787")
	relay := NewConnection(ConnRelay, "relay.example:8788")
	seedProfile(t, reg, "srv_race", direct, relay)

	var relayDials atomic.Int32
	d := New(reg, nil, Options{Stagger: 20 * time.Millisecond})
	d.dial = func(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
		if cand.Type == ConnRelay {
			relayDials.Add(1)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return fakeConn(cand, serverID), nil
	}

	conn, err := d.Connect(context.Background(), "srv_race")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if got := conn.Connection().Type; got != ConnDirect {
		t.Errorf("winner type = %q, want %q", got, ConnDirect)
	}
	// The direct handshake completed before the relay's stagger slot, so
	// the relay attempt never started.
	if n := relayDials.Load(); n != 0 {
		t.Errorf("relay dialed %d times, want 0", n)
	}
}

func TestConnectFallsBackToRelay(t *testing.T) {
	reg := testRegistry(t)
	direct := NewConnection(ConnDirect, "127.0.0.1:8787")
	relay := NewConnection(ConnRelay, "relay.example:8788")
	seedProfile(t, reg, "srv_fallback", direct, relay)

	d := New(reg, nil, Options{Stagger: time.Millisecond})
	d.dial = func(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
		if cand.Type == ConnDirect {
			return nil, errors.New("connection refused")
		}
		return fakeConn(cand, serverID), nil
	}

	conn, err := d.Connect(context.Background(), "srv_fallback")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if got := conn.Connection().Type; got != ConnRelay {
		t.Errorf("winner type = %q, want %q", got, ConnRelay)
	}
}

func TestConnectAllCandidatesFail(t *testing.T) {
	reg := testRegistry(t)
	seedProfile(t, reg, "srv_dead",
		NewConnection(ConnDirect, "127.0.0.1:8787"),
		NewConnection(ConnRelay, "relay.example:8788"))

	d := New(reg, nil, Options{Stagger: time.Millisecond})
	d.dial = func(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
		return nil, errors.New("unreachable")
	}

	if _, err := d.Connect(context.Background(), "srv_dead"); err == nil {
		t.Fatal("Connect succeeded with every candidate failing")
	}
}

func TestConnectRekeysOnServerIDMismatch(t *testing.T) {
	reg := testRegistry(t)
	seedProfile(t, reg, "srv_old", NewConnection(ConnDirect, "127.0.0.1:8787"))

	d := New(reg, nil, Options{})
	d.dial = func(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
		return fakeConn(cand, "srv_new"), nil
	}

	conn, err := d.Connect(context.Background(), "srv_old")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if _, err := reg.Load("srv_new"); err != nil {
		t.Errorf("profile not stored under reported id: %v", err)
	}
	if _, err := reg.Load("srv_old"); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("stale profile still loadable, err = %v", err)
	}
}

func TestMaintainPublishesOneActiveConnectionPerSuccess(t *testing.T) {
	reg := testRegistry(t)
	seedProfile(t, reg, "srv_keep", NewConnection(ConnDirect, "127.0.0.1:8787"))

	var current atomic.Pointer[Conn]
	d := New(reg, nil, Options{})
	d.dial = func(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
		c := fakeConn(cand, serverID)
		current.Store(c)
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statuses := make(chan Status, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Maintain(ctx, "srv_keep", func(st Status) { statuses <- st })
	}()

	expect := func(state string) Status {
		t.Helper()
		select {
		case st := <-statuses:
			if st.State != state {
				t.Fatalf("status = %s, want %s", st.State, state)
			}
			return st
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s status", state)
			return Status{}
		}
	}

	expect(StateConnecting)
	online := expect(StateOnline)
	if online.Conn == nil || online.Conn.Endpoint != "127.0.0.1:8787" {
		t.Fatalf("online status missing active connection: %+v", online.Conn)
	}

	// Losing the session flips to offline and re-races.
	current.Load().shutdown(errors.New("link lost"))
	expect(StateOffline)
	expect(StateConnecting)
	expect(StateOnline)

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Maintain returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Maintain did not stop on cancel")
	}
}
