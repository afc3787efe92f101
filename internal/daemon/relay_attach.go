package daemon

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/paseohq/paseo/internal/session"
	"github.com/paseohq/paseo/pkg/protocol"
)

const (
	relayBackoffBase = 500 * time.Millisecond
	relayBackoffMax  = 30 * time.Second
	relayPingEvery   = 30 * time.Second
)

// relayLoop keeps the daemon registered with its relay, reconnecting with
// jittered exponential backoff.
func (d *Daemon) relayLoop(ctx context.Context, endpoint string) {
	attempt := 0
	for ctx.Err() == nil {
		if err := d.attachRelay(ctx, endpoint); err != nil {
			d.logger.Warn("relay_attach_failed", "endpoint", endpoint, "error", err)
		} else {
			attempt = 0 // a successful registration resets the curve
		}

		delay := relayBackoffMax
		if attempt < 10 {
			if shifted := relayBackoffBase << attempt; shifted < relayBackoffMax {
				delay = shifted
			}
		}
		attempt++
		jitter := 1 + 0.2*(2*rand.Float64()-1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(float64(delay) * jitter)):
		}
	}
}

// relayWS is the single socket to the relay; daemon frames written here
// are broadcast to every attached client.
type relayWS struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex
}

func (r *relayWS) WriteFrame(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Write(r.ctx, websocket.MessageText, data)
}

// attachRelay dials the relay, registers, and demultiplexes client frames
// into one virtual session per remote client until the socket dies.
func (d *Daemon) attachRelay(ctx context.Context, endpoint string) error {
	conn, _, err := websocket.Dial(ctx, relayURL(endpoint), nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ws := &relayWS{conn: conn, ctx: ctx}
	if err := ws.WriteFrame([]byte(protocol.RelayRegisterPrefix + d.identity.ServerID)); err != nil {
		return err
	}
	if _, ack, err := conn.Read(ctx); err != nil {
		return err
	} else if string(ack) != protocol.RelayAttachOK {
		d.logger.Warn("relay_unexpected_ack", "ack", string(ack))
		return nil
	}
	d.logger.Info("relay_registered", "endpoint", endpoint)

	snap := d.cfg.Snapshot()
	sessions := make(map[string]*session.Session)
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(relayPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				// Pings keep an idle registration out of the relay's GC.
				if err := conn.Ping(pingCtx); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var cf protocol.ClientFrame
		if err := json.Unmarshal(data, &cf); err != nil || cf.ClientID == "" {
			d.logger.Debug("relay_bad_client_frame")
			continue
		}

		if cf.Gone {
			if s, ok := sessions[cf.ClientID]; ok {
				delete(sessions, cf.ClientID)
				s.Close()
				d.logger.Info("session_closed", "session_id", s.ID())
			}
			continue
		}

		s, ok := sessions[cf.ClientID]
		if !ok {
			s = session.New("relay_"+cf.ClientID, ws, d.router, session.Options{
				HighWater: snap.Daemon.OutboundHighWater,
				RateRPS:   snap.Daemon.RateLimitRPS,
				RateBurst: snap.Daemon.RateLimitBurst,
			}, d.logger)
			s.Start()
			sessions[cf.ClientID] = s
			d.logger.Info("session_opened", "session_id", s.ID(), "via", "relay")
		}
		if err := s.HandleFrame(cf.Data); err != nil {
			delete(sessions, cf.ClientID)
			s.Close()
		}
	}
}

// relayURL normalizes a configured endpoint into a dialable ws(s) URL.
func relayURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	default:
		endpoint = "ws://" + endpoint
	}
	if u, err := url.Parse(endpoint); err == nil && (u.Path == "" || u.Path == "/") {
		u.Path = "/"
		return u.String()
	}
	return endpoint
}
