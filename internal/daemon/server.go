package daemon

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paseohq/paseo/internal/session"
)

// buildMux returns the daemon's HTTP routes: the session endpoint, the
// health probe, and single-use download redemption.
func (d *Daemon) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", d.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/download/", d.tokens.ServeDownload)
	return mux
}

// originAllowed implements the CORS policy for websocket upgrades:
// non-browser clients (no Origin), same-host origins, and configured
// origins pass; everything else is refused.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

// wsFrameWriter adapts a gorilla connection to the session's FrameWriter.
type wsFrameWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsFrameWriter) WriteFrame(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleWS upgrades a direct client and serves its session until the
// socket closes.
func (d *Daemon) handleWS(w http.ResponseWriter, r *http.Request) {
	snap := d.cfg.Snapshot()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(r, snap.Daemon.CORSOrigins) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("ws_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := session.New("ws_"+uuid.NewString(), &wsFrameWriter{conn: conn}, d.router, session.Options{
		HighWater: snap.Daemon.OutboundHighWater,
		RateRPS:   snap.Daemon.RateLimitRPS,
		RateBurst: snap.Daemon.RateLimitBurst,
	}, d.logger)
	sess.Start()
	d.logger.Info("session_opened", "session_id", sess.ID(), "remote", r.RemoteAddr)

	defer func() {
		conn.Close()
		sess.Close()
		d.logger.Info("session_closed", "session_id", sess.ID())
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := sess.HandleFrame(data); err != nil {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
			return
		}
	}
}
