// Package relay implements the store-and-forward rendezvous between
// daemons and clients. A relay hosts named sessions: one daemon side and
// any number of client sides. Frames are opaque; the relay signals
// failures only through websocket close reasons.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paseohq/paseo/pkg/protocol"
)

// Config tunes a relay server. Zero values pick the defaults.
type Config struct {
	IdleTTL        time.Duration // session GC horizon (default 60s)
	HighWaterBytes int64         // per-side buffered bytes before close (default 1 MiB)
	SendQueue      int           // per-side frame queue (default 256)
}

func (c Config) withDefaults() Config {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 60 * time.Second
	}
	if c.HighWaterBytes <= 0 {
		c.HighWaterBytes = 1 << 20
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	return c
}

// Server is the relay service.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a relay server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The relay is a public rendezvous; possession of the session id is
		// the only credential and payloads are opaque to it.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// BuildMux returns the relay's HTTP routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	gcCtx, cancelGC := context.WithCancel(ctx)
	defer cancelGC()
	go s.gcLoop(gcCtx)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("relay_listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay listen: %w", err)
	}
	return nil
}

// StartTestServer binds to an ephemeral port for integration tests and
// returns the listen address plus a stop func.
func (s *Server) StartTestServer(t interface{ Fatalf(string, ...any) }) (string, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("relay test listen: %v", err)
	}
	s.httpServer = &http.Server{Handler: s.BuildMux()}

	gcCtx, cancelGC := context.WithCancel(context.Background())
	go s.gcLoop(gcCtx)
	go func() { _ = s.httpServer.Serve(ln) }()

	stop := func() {
		cancelGC()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutCtx)
	}
	return ln.Addr().String(), stop
}

// handleWS upgrades and routes by the attach line: "REGISTER <id>" for
// daemons, "JOIN <id>" for clients.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	mt, line, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		closeWith(conn, protocol.CloseInternal)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	attach := string(line)
	switch {
	case strings.HasPrefix(attach, protocol.RelayRegisterPrefix):
		sessionID := strings.TrimSpace(strings.TrimPrefix(attach, protocol.RelayRegisterPrefix))
		s.registerDaemon(sessionID, conn)
	case strings.HasPrefix(attach, protocol.RelayJoinPrefix):
		sessionID := strings.TrimSpace(strings.TrimPrefix(attach, protocol.RelayJoinPrefix))
		s.joinClient(sessionID, conn)
	default:
		closeWith(conn, protocol.CloseInternal)
		conn.Close()
	}
}

func (s *Server) registerDaemon(sessionID string, conn *websocket.Conn) {
	if sessionID == "" {
		closeWith(conn, protocol.CloseInvalidSession)
		conn.Close()
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = newSession(sessionID, s.cfg, s.logger)
		s.sessions[sessionID] = sess
	}
	s.mu.Unlock()

	sess.attachDaemon(conn)
	s.logger.Info("relay_daemon_registered", "session_id", sessionID)
}

func (s *Server) joinClient(sessionID string, conn *websocket.Conn) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || !sess.hasDaemon() {
		closeWith(conn, protocol.CloseInvalidSession)
		conn.Close()
		return
	}

	clientID := sess.attachClient(conn)
	if clientID == "" {
		closeWith(conn, protocol.CloseInvalidSession)
		conn.Close()
		return
	}
	s.logger.Info("relay_client_joined", "session_id", sessionID, "client_id", clientID)
}

// gcLoop reaps sessions with no live sides and no recent traffic.
func (s *Server) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.IdleTTL)
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.idleSince(cutoff) {
					delete(s.sessions, id)
					go sess.destroy()
					s.logger.Info("relay_session_gc", "session_id", id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// SessionCount reports live sessions (test hook).
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
