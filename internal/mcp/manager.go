// Package mcp connects to configured MCP servers and exposes their tools
// as regular agent tools under an mcp_<server>_ name prefix.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports one server's connection state for doctor output.
type ServerStatus struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name      string
	kind      string
	client    *mcpclient.Client
	connected atomic.Bool
	tools     []tools.Tool
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns the MCP server connections for one daemon. Connections are
// shared by every agent; each agent's toolbox registers the bridged tools.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]*serverState
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, servers: make(map[string]*serverState)}
}

// Start connects every configured server. Failures are logged and skipped so
// one bad server never blocks daemon startup.
func (m *Manager) Start(ctx context.Context, specs []config.MCPServerSpec) {
	for _, spec := range specs {
		if err := m.connect(ctx, spec); err != nil {
			m.logger.Warn("mcp_server_connect_failed", "server", spec.Name, "error", err)
		}
	}
}

func (m *Manager) connect(ctx context.Context, spec config.MCPServerSpec) error {
	client, err := newClient(spec)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio transports start themselves; http ones need an explicit Start.
	if spec.Kind == "http" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "paseo", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: spec.Name, kind: spec.Kind, client: client}
	ss.connected.Store(true)
	for _, t := range listed.Tools {
		ss.tools = append(ss.tools, newBridgeTool(spec.Name, t, client, &ss.connected))
	}

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[spec.Name] = ss
	m.mu.Unlock()

	m.logger.Info("mcp_server_connected", "server", spec.Name, "kind", spec.Kind, "tools", len(ss.tools))
	return nil
}

func newClient(spec config.MCPServerSpec) (*mcpclient.Client, error) {
	switch spec.Kind {
	case "", "stdio":
		env := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(spec.Command, env, spec.Args...)
	case "http":
		var opts []transport.StreamableHTTPCOption
		return mcpclient.NewStreamableHttpClient(spec.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported server kind %q", spec.Kind)
	}
}

// Tools returns the bridged tools of every connected server, for
// registration into an agent toolbox.
func (m *Manager) Tools() []tools.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tools.Tool
	for _, ss := range m.servers {
		out = append(out, ss.tools...)
	}
	return out
}

// Status reports per-server connection state.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{
			Name:      ss.name,
			Kind:      ss.kind,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.tools),
			Error:     lastErr,
		})
	}
	return out
}

// Close disconnects every server and stops health checks.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		_ = ss.client.Close()
		m.logger.Debug("mcp_server_closed", "server", name)
	}
	m.servers = make(map[string]*serverState)
}

func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err == nil {
				ss.markHealthy()
				continue
			}
			// Servers without a ping handler are still alive.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				ss.markHealthy()
				continue
			}
			ss.connected.Store(false)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()
			m.logger.Warn("mcp_server_health_failed", "server", ss.name, "error", err)
			m.tryReconnect(ctx, ss)
		}
	}
}

func (ss *serverState) markHealthy() {
	ss.connected.Store(true)
	ss.mu.Lock()
	ss.reconnAttempts = 0
	ss.lastErr = ""
	ss.mu.Unlock()
}

func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		m.logger.Error("mcp_server_reconnect_exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	m.logger.Info("mcp_server_reconnecting", "server", ss.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	// The transport may have recovered on its own.
	if err := ss.client.Ping(ctx); err == nil {
		ss.markHealthy()
		m.logger.Info("mcp_server_reconnected", "server", ss.name)
	}
}
