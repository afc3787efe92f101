package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/paseohq/paseo/pkg/protocol"
)

// wsConn wraps coder/websocket with a thread-safe text write.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func dialWS(ctx context.Context, wsURL string) (*wsConn, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.conn.Close(code, reason)
}

// wsURL normalizes a stored endpoint into a dialable websocket URL. Bare
// host:port endpoints become ws://; http(s) schemes map to ws(s). The path
// is applied only when the endpoint does not already carry one.
func wsURL(endpoint, path string) string {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	default:
		endpoint = "ws://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint + path
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String()
}

// dialCandidate opens one candidate and completes the hello handshake. The
// returned Conn is live and reading.
func (d *Dialer) dialCandidate(ctx context.Context, serverID string, cand Connection) (*Conn, error) {
	var ws *wsConn
	var err error
	switch cand.Type {
	case ConnDirect:
		ws, err = dialWS(ctx, wsURL(cand.Endpoint, "/ws"))
	case ConnRelay:
		ws, err = dialWS(ctx, wsURL(cand.Endpoint, "/"))
		if err == nil {
			if aerr := attachRelay(ctx, ws, serverID); aerr != nil {
				ws.close(websocket.StatusNormalClosure, "")
				err = aerr
			}
		}
	default:
		return nil, fmt.Errorf("unknown connection type %q", cand.Type)
	}
	if err != nil {
		return nil, err
	}

	info, err := handshake(ctx, ws, d.hello)
	if err != nil {
		ws.close(websocket.StatusNormalClosure, "")
		return nil, err
	}
	return newConn(ws, cand, info, d.logger), nil
}

// attachRelay sends the JOIN line and waits for the relay's ack. A refused
// join surfaces the relay's close reason, e.g. invalid_session when no
// daemon is registered.
func attachRelay(ctx context.Context, ws *wsConn, serverID string) error {
	if err := ws.write(ctx, []byte(protocol.RelayJoinPrefix+serverID)); err != nil {
		return fmt.Errorf("relay join: %w", err)
	}
	ack, err := ws.read(ctx)
	if err != nil {
		if reason := closeReason(err); reason != "" {
			return fmt.Errorf("relay refused join: %s", reason)
		}
		return fmt.Errorf("relay join: %w", err)
	}
	if string(ack) != protocol.RelayAttachOK {
		return fmt.Errorf("relay join: unexpected ack %q", ack)
	}
	return nil
}

// handshake sends client_hello and waits for the matching server_info.
// Over a relay other clients' traffic may interleave; anything that is not
// our server_info is skipped.
func handshake(ctx context.Context, ws *wsConn, hello protocol.ClientHello) (protocol.ServerInfo, error) {
	reqID := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.MsgClientHello, reqID, hello)
	if err != nil {
		return protocol.ServerInfo{}, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("marshal hello: %w", err)
	}
	if err := ws.write(ctx, raw); err != nil {
		return protocol.ServerInfo{}, fmt.Errorf("send hello: %w", err)
	}

	for {
		data, err := ws.read(ctx)
		if err != nil {
			return protocol.ServerInfo{}, fmt.Errorf("handshake read: %w", err)
		}
		var in protocol.Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Type != protocol.MsgServerInfo {
			continue
		}
		if in.RequestID != "" && in.RequestID != reqID {
			continue
		}
		var info protocol.ServerInfo
		if err := in.DecodePayload(&info); err != nil {
			return protocol.ServerInfo{}, err
		}
		if info.ServerID == "" {
			return protocol.ServerInfo{}, fmt.Errorf("server_info missing serverId")
		}
		return info, nil
	}
}

// closeReason extracts the peer's close reason, if the error carries one.
func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
