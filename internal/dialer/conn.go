package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/paseohq/paseo/pkg/protocol"
)

// ErrConnClosed is returned by Call when the connection dies before the
// response arrives.
var ErrConnClosed = errors.New("dialer: connection closed")

const connEventBuffer = 64

// Conn is a live, handshaken session to a daemon. One goroutine reads
// frames and routes responses to their callers; everything else (agent
// events, updates, terminal output) lands on Events.
type Conn struct {
	ws     *wsConn
	cand   Connection
	info   protocol.ServerInfo
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan protocol.Response

	events chan protocol.Envelope
	done   chan struct{}
	once   sync.Once
	err    error
}

func newConn(ws *wsConn, cand Connection, info protocol.ServerInfo, logger *slog.Logger) *Conn {
	c := &Conn{
		ws:      ws,
		cand:    cand,
		info:    info,
		logger:  logger,
		pending: make(map[string]chan protocol.Response),
		events:  make(chan protocol.Envelope, connEventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Info returns the daemon's handshake reply.
func (c *Conn) Info() protocol.ServerInfo { return c.info }

// Connection returns the candidate this session won through.
func (c *Conn) Connection() Connection { return c.cand }

// Events delivers non-response frames. Slow consumers lose the oldest
// buffered frame, never the connection.
func (c *Conn) Events() <-chan protocol.Envelope { return c.events }

// Done is closed when the connection is gone, from either side.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. Valid after Done is closed; nil
// means a local Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close shuts the connection down and fails all in-flight calls.
func (c *Conn) Close() {
	c.shutdown(nil)
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		if c.ws != nil {
			c.ws.close(websocket.StatusNormalClosure, "")
		}

		c.mu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.mu.Unlock()

		close(c.done)
	})
}

// Call sends a request envelope and waits for its response.
func (c *Conn) Call(ctx context.Context, msgType string, payload any) (protocol.Response, error) {
	reqID := uuid.NewString()
	env, err := protocol.NewEnvelope(msgType, reqID, payload)
	if err != nil {
		return protocol.Response{}, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	if err := c.ws.write(ctx, raw); err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, ErrConnClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return protocol.Response{}, ctx.Err()
	case <-c.done:
		return protocol.Response{}, ErrConnClosed
	}
}

// Notify sends a fire-and-forget message (no requestId, no response).
func (c *Conn) Notify(ctx context.Context, msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, "", payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return c.ws.write(ctx, raw)
}

func (c *Conn) readLoop() {
	for {
		data, err := c.ws.read(context.Background())
		if err != nil {
			c.shutdown(err)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "host", c.info.ServerID, "error", err)
			continue
		}
		if env.Type == protocol.MsgResponse && env.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.RequestID]
			if ok {
				delete(c.pending, env.RequestID)
			}
			c.mu.Unlock()
			if ok {
				var resp protocol.Response
				if err := env.DecodePayload(&resp); err != nil {
					resp = protocol.Fail(protocol.ErrInternal, "undecodable response: %v", err)
				}
				ch <- resp
			}
			// Responses for other relay clients are not ours to see.
			continue
		}
		c.emit(env)
	}
}

// emit never blocks: when the consumer lags, the oldest buffered frame is
// dropped to make room.
func (c *Conn) emit(env protocol.Envelope) {
	select {
	case c.events <- env:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- env:
	default:
	}
}
