// Package session multiplexes one connected client over a frame transport:
// the direct /ws websocket or a relay virtual channel. Framing is one JSON
// Envelope per text frame.
//
// Guarantees at this boundary: at most one response per requestId
// (duplicates answered with duplicate_request_id), responses unordered
// across requests, streaming events ordered per subscription, and an
// outbound high-water mark that pauses subscription fan-out without
// blocking request replies.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/paseohq/paseo/pkg/protocol"
)

var tracer = otel.Tracer("paseo/session")

const defaultHighWater = 128

// ErrRateLimited tells the transport to close the connection; the limiter
// treats sustained overrun as a policy violation, not a per-request error.
var ErrRateLimited = errors.New("session: inbound rate limit exceeded")

// FrameWriter is the transport half a session writes to. WriteFrame sends
// one complete text frame; implementations serialize writes internally or
// are only called from the session's writer goroutine (which is the case).
type FrameWriter interface {
	WriteFrame(data []byte) error
}

// Options tunes one session. Zero values pick the defaults.
type Options struct {
	HighWater int     // outbound frames buffered before fan-out pauses
	RateRPS   float64 // inbound requests/sec, 0 disables limiting
	RateBurst int     // default 2x rps
}

// Session serves one client channel.
type Session struct {
	id     string
	conn   FrameWriter
	router *Router
	logger *slog.Logger

	limiter   *rate.Limiter
	highWater int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	seen   map[string]struct{}

	subsMu   sync.Mutex
	cleanups map[string]func()

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a session over conn. Start must be called before frames are
// handled.
func New(id string, conn FrameWriter, router *Router, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	highWater := opts.HighWater
	if highWater <= 0 {
		highWater = defaultHighWater
	}
	var limiter *rate.Limiter
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(2 * opts.RateRPS)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		conn:      conn,
		router:    router,
		logger:    logger.With("session_id", id),
		limiter:   limiter,
		highWater: highWater,
		ctx:       ctx,
		cancel:    cancel,
		seen:      make(map[string]struct{}),
		cleanups:  make(map[string]func()),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Start launches the writer and subscribes the session to the agent event
// stream; every agent event reaches every connected client.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.writeLoop()
	if s.router.svc.Agents != nil {
		ch := s.router.svc.Agents.Events().Subscribe("session:"+s.id, "")
		s.addCleanup("events", func() { s.router.svc.Agents.Events().Unsubscribe("session:" + s.id) })
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range ch {
				s.pushStream(protocol.MsgAgentEvent, ev)
			}
		}()
	}
}

// Close tears the session down: cancels in-flight handlers, releases every
// subscription, and stops the writer once the queue drains. Agent runs are
// unaffected.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.subsMu.Lock()
		cleanups := make([]func(), 0, len(s.cleanups))
		for _, fn := range s.cleanups {
			cleanups = append(cleanups, fn)
		}
		s.cleanups = make(map[string]func())
		s.subsMu.Unlock()
		for _, fn := range cleanups {
			fn()
		}

		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// writeLoop drains the outbound queue onto the transport in order.
func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		data := s.queue[0]
		s.queue = s.queue[1:]
		s.cond.Broadcast()
		s.mu.Unlock()

		if err := s.conn.WriteFrame(data); err != nil {
			s.logger.Debug("session_write_failed", "error", err)
			s.mu.Lock()
			s.closed = true
			s.queue = nil
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
	}
}

// enqueue appends a frame unconditionally. Request replies use this path
// so backpressure from subscriptions never blocks them.
func (s *Session) enqueue(data []byte) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, data)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// enqueueStream appends a fan-out frame, pausing while the outbound queue
// sits above the high-water mark. Resumes as the writer drains.
func (s *Session) enqueueStream(data []byte) {
	s.mu.Lock()
	for len(s.queue) >= s.highWater && !s.closed {
		s.cond.Wait()
	}
	if !s.closed {
		s.queue = append(s.queue, data)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// push marshals and enqueues a server-initiated frame on the reply path.
func (s *Session) push(msgType, requestID string, payload any) {
	env, err := protocol.NewEnvelope(msgType, requestID, payload)
	if err != nil {
		s.logger.Error("session_marshal_failed", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("session_marshal_failed", "type", msgType, "error", err)
		return
	}
	s.enqueue(data)
}

// pushStream marshals and enqueues a subscription frame on the fan-out
// path.
func (s *Session) pushStream(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, "", payload)
	if err != nil {
		s.logger.Error("session_marshal_failed", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("session_marshal_failed", "type", msgType, "error", err)
		return
	}
	s.enqueueStream(data)
}

// respond sends the response for one requestId.
func (s *Session) respond(requestID string, resp protocol.Response) {
	s.push(protocol.MsgResponse, requestID, resp)
}

// HandleFrame processes one inbound frame. A non-nil error means the
// transport should close the session.
func (s *Session) HandleFrame(data []byte) error {
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("session_rate_limited")
		return ErrRateLimited
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("session_bad_frame", "error", err)
		return nil
	}

	switch env.Type {
	case "":
		s.logger.Debug("session_frame_without_type")
		return nil
	case protocol.MsgClientHello:
		s.handleHello(env)
		return nil
	case protocol.MsgTerminalInput:
		s.router.handleTerminalInput(env)
		return nil
	case protocol.MsgRealtimeAudioChunk:
		s.router.handleRealtimeAudio(env)
		return nil
	case protocol.MsgDictationAudioChunk:
		s.router.handleDictationAudio(env)
		return nil
	}

	if env.RequestID == "" {
		s.logger.Warn("session_request_without_id", "type", env.Type)
		return nil
	}

	s.mu.Lock()
	_, dup := s.seen[env.RequestID]
	if !dup {
		s.seen[env.RequestID] = struct{}{}
	}
	s.mu.Unlock()
	if dup {
		s.respond(env.RequestID, protocol.Fail(protocol.ErrDuplicateRequestID, "requestId %s was already used", env.RequestID))
		return nil
	}

	handler, ok := s.router.routes[env.Type]
	if !ok {
		s.respond(env.RequestID, protocol.Fail(protocol.ErrBadRequest, "unknown message type %q", env.Type))
		return nil
	}

	// Responses are unordered across requests; each handler runs on its
	// own goroutine under a context that dies with the session.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		s.dispatch(ctx, env, handler)
	}()
	return nil
}

func (s *Session) dispatch(ctx context.Context, env protocol.Envelope, handler handlerFunc) {
	ctx, span := tracer.Start(ctx, env.Type)
	defer span.End()

	result, err := handler(ctx, s, env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.respond(env.RequestID, failureFor(err))
		return
	}
	resp, err := protocol.OK(result)
	if err != nil {
		s.logger.Error("session_result_marshal_failed", "type", env.Type, "error", err)
		s.respond(env.RequestID, protocol.Fail(protocol.ErrInternal, "marshal result"))
		return
	}
	s.respond(env.RequestID, resp)
}

// handleHello answers the handshake with the authoritative server identity.
func (s *Session) handleHello(env protocol.Envelope) {
	var hello protocol.ClientHello
	if err := env.DecodePayload(&hello); err != nil {
		s.logger.Debug("session_bad_hello", "error", err)
	}
	s.push(protocol.MsgServerInfo, env.RequestID, s.router.svc.Info)
}

// addCleanup registers a teardown hook, replacing (and running) any
// previous hook under the same key.
func (s *Session) addCleanup(key string, fn func()) {
	s.subsMu.Lock()
	old := s.cleanups[key]
	s.cleanups[key] = fn
	s.subsMu.Unlock()
	if old != nil {
		old()
	}
}

// removeCleanup runs and drops the hook under key. Returns false when no
// hook was registered.
func (s *Session) removeCleanup(key string) bool {
	s.subsMu.Lock()
	fn, ok := s.cleanups[key]
	delete(s.cleanups, key)
	s.subsMu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// failureFor maps a handler error to a wire response, preserving the
// structured code (and candidates/conflicts) of protocol errors.
func failureFor(err error) protocol.Response {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return protocol.Response{Success: false, Error: perr}
	}
	if errors.Is(err, context.Canceled) {
		return protocol.Fail(protocol.ErrCancelled, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.Fail(protocol.ErrTimeout, "request timed out")
	}
	return protocol.Fail(protocol.ErrInternal, "%s", err.Error())
}
