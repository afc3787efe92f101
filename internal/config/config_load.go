package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with workable defaults for a workstation daemon.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Home:              "~/.paseo",
			Listen:            "127.0.0.1:8787",
			OutboundHighWater: 128,
		},
		Relay: RelayConfig{
			Listen:        "0.0.0.0:8788",
			IdleTTLSec:    60,
			HighWaterKB:   1024,
			SendQueueSize: 256,
		},
		Providers: ProvidersConfig{
			Anthropic: AnthropicConfig{Version: "2023-06-01"},
		},
		Agents: AgentsConfig{
			DefaultProvider:   "anthropic",
			DefaultModel:      "claude-sonnet-4-5-20250929",
			CheapModel:        "claude-3-5-haiku-20241022",
			MaxTokens:         8192,
			MaxToolIterations: 40,
			SubscriberQueue:   256,
			PersistEveryN:     8,
		},
		Terminal: TerminalConfig{
			ScrollbackKB: 256,
		},
		Voice: VoiceConfig{
			STTModel: "gpt-4o-mini-transcribe",
		},
	}
}

// ResolveHome returns the expanded state directory, honoring PASEO_HOME.
func ResolveHome() string {
	if v := os.Getenv("PASEO_HOME"); v != "" {
		return ExpandHome(v)
	}
	return ExpandHome("~/.paseo")
}

// Path returns the config file path under a state dir.
func Path(home string) string {
	return filepath.Join(home, "config.json5")
}

// Load reads config.json5 from the state dir, then overlays env vars.
// A missing file yields defaults.
func Load(home string) (*Config, error) {
	cfg := Default()
	cfg.Daemon.Home = home

	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// The file never overrides the resolved home; PASEO_HOME decided it.
	cfg.Daemon.Home = home
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("PASEO_LISTEN", &c.Daemon.Listen)
	envStr("PASEO_RELAY_ENDPOINT", &c.Relay.Endpoint)
	envStr("PASEO_SERVER_ID", &c.Daemon.ServerID)
	if v := os.Getenv("PASEO_CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.Daemon.CORSOrigins = origins
	}

	// Provider secrets: PASEO_* wins, the bare SDK names are honored too.
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("PASEO_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("PASEO_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)

	envStr("PASEO_PROVIDER", &c.Agents.DefaultProvider)
	envStr("PASEO_MODEL", &c.Agents.DefaultModel)
	envStr("PASEO_CHEAP_MODEL", &c.Agents.CheapModel)

	envStr("PASEO_RELAY_LISTEN", &c.Relay.Listen)
	if v := os.Getenv("PASEO_RELAY_IDLE_TTL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Relay.IdleTTLSec = sec
		}
	}

	envStr("PASEO_SHELL", &c.Terminal.Shell)

	// Telemetry
	envStr("PASEO_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("PASEO_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("PASEO_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("PASEO_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PASEO_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("PASEO_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("PASEO_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("PASEO_TSNET_DIR", &c.Tailscale.StateDir)
}

// ApplyEnvOverrides re-applies environment overrides, restoring runtime
// secrets after a file reload replaced them.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to the state dir. Secret fields carry `json:"-"`
// and never reach disk.
func Save(home string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o600)
}

// Hash returns a short SHA-256 of the config, used by the reload watcher to
// skip no-op rewrites.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy with secret fields masked, safe to log or
// echo from `paseo doctor`.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	data, err := json.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Tailscale.AuthKey)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
