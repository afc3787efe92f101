package config

import (
	"sync"
)

// Config is the root configuration for the paseo daemon and relay.
type Config struct {
	Daemon    DaemonConfig    `json:"daemon"`
	Relay     RelayConfig     `json:"relay,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Agents    AgentsConfig    `json:"agents"`
	Worktrees WorktreesConfig `json:"worktrees,omitempty"`
	Terminal  TerminalConfig  `json:"terminal,omitempty"`
	Voice     VoiceConfig     `json:"voice,omitempty"`
	Schedules []ScheduleSpec  `json:"schedules,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	mu        sync.RWMutex
}

// DaemonConfig covers the daemon process itself.
type DaemonConfig struct {
	Home        string   `json:"home,omitempty"`         // state dir (default ~/.paseo)
	Listen      string   `json:"listen,omitempty"`       // host:port (default 127.0.0.1:8787)
	CORSOrigins []string `json:"cors_origins,omitempty"` // allowed websocket origins; empty allows none besides same-host
	ServerID    string   `json:"-"`                      // from env PASEO_SERVER_ID only; persisted in identity.json otherwise

	// Session channel tuning.
	OutboundHighWater int     `json:"outbound_high_water,omitempty"` // frames buffered before fan-out pauses (default 128)
	RateLimitRPS      float64 `json:"rate_limit_rps,omitempty"`      // inbound requests/sec per session, 0 disables
	RateLimitBurst    int     `json:"rate_limit_burst,omitempty"`    // default 2x rps
}

// RelayConfig covers both roles: the endpoint this daemon registers with,
// and the listen address used by `paseo relay`.
type RelayConfig struct {
	Endpoint      string `json:"endpoint,omitempty"`        // host:port of the relay the daemon uses
	Listen        string `json:"listen,omitempty"`          // host:port for `paseo relay` (default 0.0.0.0:8788)
	IdleTTLSec    int    `json:"idle_ttl_sec,omitempty"`    // GC idle sessions after this (default 60)
	HighWaterKB   int    `json:"high_water_kb,omitempty"`   // per-side buffered bytes before close (default 1024)
	SendQueueSize int    `json:"send_queue_size,omitempty"` // per-side frame queue (default 256)
}

// ProvidersConfig holds provider credentials and endpoints.
// API keys from env only (never persisted to config.json5).
type ProvidersConfig struct {
	Anthropic AnthropicConfig `json:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `json:"openai,omitempty"`
}

type AnthropicConfig struct {
	APIKey  string `json:"-"` // from env PASEO_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY
	BaseURL string `json:"base_url,omitempty"`
	Version string `json:"version,omitempty"` // anthropic-version header (default 2023-06-01)
}

type OpenAIConfig struct {
	APIKey  string `json:"-"` // from env PASEO_OPENAI_API_KEY or OPENAI_API_KEY
	BaseURL string `json:"base_url,omitempty"`
}

// AgentsConfig holds agent runtime defaults.
type AgentsConfig struct {
	DefaultProvider   string `json:"default_provider,omitempty"`    // default "anthropic"
	DefaultModel      string `json:"default_model,omitempty"`       // main model
	CheapModel        string `json:"cheap_model,omitempty"`         // metadata/commit-message model
	MaxTokens         int    `json:"max_tokens,omitempty"`          // default 8192
	MaxToolIterations int    `json:"max_tool_iterations,omitempty"` // default 40
	SubscriberQueue   int    `json:"subscriber_queue,omitempty"`    // per-subscriber event buffer (default 256, min 256)
	PersistEveryN     int    `json:"persist_every_n,omitempty"`     // tool events between persists (default 8)

	// MCP servers whose tools join every agent's registry.
	MCPServers []MCPServerSpec `json:"mcp_servers,omitempty"`
}

// MCPServerSpec describes one MCP server connection.
type MCPServerSpec struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind,omitempty"` // stdio (default) or http
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// WorktreesConfig covers paseo-owned worktree creation.
type WorktreesConfig struct {
	SetupCommands    []string `json:"setup_commands,omitempty"`    // run sequentially in new worktrees
	CleanupOnFailure bool     `json:"cleanup_on_failure,omitempty"` // delete the worktree when setup fails
}

type TerminalConfig struct {
	Shell       string `json:"shell,omitempty"`        // default $SHELL then /bin/sh
	ScrollbackKB int   `json:"scrollback_kb,omitempty"` // replay buffer per terminal (default 256)
}

type VoiceConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	STTModel string `json:"stt_model,omitempty"` // default gpt-4o-mini-transcribe
}

// ScheduleSpec submits a prompt to an agent on a cron expression.
type ScheduleSpec struct {
	AgentID string `json:"agentId,omitempty"` // exact agent id, or
	Label   string `json:"label,omitempty"`   // key=value label selector
	Cron    string `json:"cron"`
	Prompt  string `json:"prompt"`
}

// TelemetryConfig configures OTLP span export. Disabled unless Endpoint set
// and Enabled true.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "paseo-daemon"
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener.
// Requires building with -tags tailscale. Auth key from env only.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`  // tailnet machine name (e.g. "paseo")
	StateDir  string `json:"state_dir,omitempty"` // default <home>/tsnet
	AuthKey   string `json:"-"`                   // from env PASEO_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Daemon = src.Daemon
	c.Relay = src.Relay
	c.Providers = src.Providers
	c.Agents = src.Agents
	c.Worktrees = src.Worktrees
	c.Terminal = src.Terminal
	c.Voice = src.Voice
	c.Schedules = src.Schedules
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a copy of the data fields for lock-free reads.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Daemon:    c.Daemon,
		Relay:     c.Relay,
		Providers: c.Providers,
		Agents:    c.Agents,
		Worktrees: c.Worktrees,
		Terminal:  c.Terminal,
		Voice:     c.Voice,
		Schedules: append([]ScheduleSpec(nil), c.Schedules...),
		Telemetry: c.Telemetry,
		Tailscale: c.Tailscale,
	}
}
