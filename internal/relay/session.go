package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paseohq/paseo/pkg/protocol"
)

// frame carries one websocket message through a side's send queue.
type frame struct {
	mt   int
	data []byte
}

// side is one attached peer (the daemon or a client) with its own bounded
// send queue and writer goroutine.
type side struct {
	conn     *websocket.Conn
	send     chan frame
	buffered atomic.Int64
	done     chan struct{}
	once     sync.Once
}

func newSide(conn *websocket.Conn, queue int) *side {
	return &side{
		conn: conn,
		send: make(chan frame, queue),
		done: make(chan struct{}),
	}
}

// close sends the close frame with the given reason and tears the side
// down. Safe to call from any goroutine, repeatedly.
func (sd *side) close(reason string) {
	sd.once.Do(func() {
		closeWith(sd.conn, reason)
		close(sd.done)
		// Unblock the reader; the writer exits via done.
		sd.conn.Close()
	})
}

// writeLoop drains the send queue onto the socket.
func (sd *side) writeLoop() {
	for {
		select {
		case <-sd.done:
			return
		case f := <-sd.send:
			sd.buffered.Add(-int64(len(f.data)))
			sd.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sd.conn.WriteMessage(f.mt, f.data); err != nil {
				sd.close(protocol.CloseInternal)
				return
			}
		}
	}
}

// enqueue hands a frame to the side, closing it on overflow. Returns false
// when the side is gone.
func (sd *side) enqueue(f frame, highWater int64) bool {
	select {
	case <-sd.done:
		return false
	default:
	}
	if sd.buffered.Add(int64(len(f.data))) > highWater {
		sd.close(protocol.CloseBackpressureExceeded)
		return false
	}
	select {
	case sd.send <- f:
		return true
	default:
		sd.close(protocol.CloseBackpressureExceeded)
		return false
	}
}

// session is one named forwarding pipe.
type session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	daemon     *side
	clients    map[string]*side
	lastActive time.Time
}

func newSession(id string, cfg Config, logger *slog.Logger) *session {
	return &session{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[string]*side),
		lastActive: time.Now(),
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *session) hasDaemon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daemon != nil
}

// idleSince reports whether the session has seen no traffic since cutoff
// and has nothing worth keeping alive.
func (s *session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastActive.Before(cutoff) {
		return false
	}
	return s.daemon == nil || len(s.clients) == 0
}

// destroy closes every remaining side. Attached clients learn their daemon
// is gone via invalid_session.
func (s *session) destroy() {
	s.mu.Lock()
	daemon := s.daemon
	s.daemon = nil
	clients := make([]*side, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*side)
	s.mu.Unlock()

	if daemon != nil {
		daemon.close("")
	}
	for _, c := range clients {
		c.close(protocol.CloseInvalidSession)
	}
}

// attachDaemon adopts conn as the daemon side, displacing any older
// registration with session_replaced.
func (s *session) attachDaemon(conn *websocket.Conn) {
	sd := newSide(conn, s.cfg.SendQueue)

	s.mu.Lock()
	old := s.daemon
	s.daemon = sd
	s.lastActive = time.Now()
	s.mu.Unlock()

	if old != nil {
		old.close(protocol.CloseSessionReplaced)
	}

	// Daemon pings keep the session out of GC while it waits for clients.
	conn.SetPingHandler(func(appData string) error {
		s.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	if !sd.enqueue(frame{websocket.TextMessage, []byte(protocol.RelayAttachOK)}, s.cfg.HighWaterBytes) {
		return
	}

	go sd.writeLoop()
	go s.daemonReadLoop(sd)
}

func (s *session) daemonReadLoop(sd *side) {
	defer func() {
		sd.close("")
		s.mu.Lock()
		if s.daemon == sd {
			s.daemon = nil
			s.lastActive = time.Now()
		}
		s.mu.Unlock()
	}()

	for {
		mt, data, err := sd.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.touch()
		s.broadcast(frame{mt, data})
	}
}

// broadcast fans a daemon frame to every attached client.
func (s *session) broadcast(f frame) {
	s.mu.Lock()
	targets := make(map[string]*side, len(s.clients))
	for id, c := range s.clients {
		targets[id] = c
	}
	s.mu.Unlock()

	for id, c := range targets {
		if !c.enqueue(f, s.cfg.HighWaterBytes) {
			s.dropClient(id, c)
		}
	}
}

// attachClient adds a client side and returns its ephemeral id, or "" when
// no daemon is registered.
func (s *session) attachClient(conn *websocket.Conn) string {
	sd := newSide(conn, s.cfg.SendQueue)
	clientID := uuid.NewString()

	s.mu.Lock()
	if s.daemon == nil {
		s.mu.Unlock()
		return ""
	}
	s.clients[clientID] = sd
	s.lastActive = time.Now()
	s.mu.Unlock()

	if !sd.enqueue(frame{websocket.TextMessage, []byte(protocol.RelayAttachOK)}, s.cfg.HighWaterBytes) {
		s.dropClient(clientID, sd)
		return ""
	}

	go sd.writeLoop()
	go s.clientReadLoop(clientID, sd)
	return clientID
}

func (s *session) clientReadLoop(clientID string, sd *side) {
	defer func() {
		sd.close("")
		s.dropClient(clientID, sd)
	}()

	for {
		mt, data, err := sd.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.touch()
		s.forwardToDaemon(clientID, data)
	}
}

// forwardToDaemon wraps a client frame with the client's ephemeral id. The
// wrap is assembled by hand so payload bytes pass through untouched.
func (s *session) forwardToDaemon(clientID string, data []byte) {
	s.mu.Lock()
	daemon := s.daemon
	s.mu.Unlock()
	if daemon == nil {
		return
	}

	wrapped := make([]byte, 0, len(data)+64)
	wrapped = append(wrapped, `{"clientId":"`...)
	wrapped = append(wrapped, clientID...)
	wrapped = append(wrapped, `","data":`...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, '}')
	daemon.enqueue(frame{websocket.TextMessage, wrapped}, s.cfg.HighWaterBytes)
}

// dropClient removes a client side and tells the daemon it is gone.
func (s *session) dropClient(clientID string, sd *side) {
	s.mu.Lock()
	cur, ok := s.clients[clientID]
	if !ok || cur != sd {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)
	daemon := s.daemon
	s.mu.Unlock()

	sd.close("")

	if daemon == nil {
		return
	}
	gone, err := json.Marshal(protocol.ClientFrame{ClientID: clientID, Gone: true})
	if err != nil {
		return
	}
	daemon.enqueue(frame{websocket.TextMessage, gone}, s.cfg.HighWaterBytes)
}

// closeWith writes the close frame carrying an application reason. An
// empty reason is a normal 1000 close.
func closeWith(conn *websocket.Conn, reason string) {
	code := websocket.CloseNormalClosure
	if reason != "" {
		code = 4001
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}
