package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Listen != "127.0.0.1:8787" {
		t.Errorf("Listen = %q, want default", cfg.Daemon.Listen)
	}
	if cfg.Daemon.Home != home {
		t.Errorf("Home = %q, want %q", cfg.Daemon.Home, home)
	}
	if cfg.Relay.IdleTTLSec != 60 {
		t.Errorf("IdleTTLSec = %d, want 60", cfg.Relay.IdleTTLSec)
	}
	if cfg.Agents.SubscriberQueue != 256 {
		t.Errorf("SubscriberQueue = %d, want 256", cfg.Agents.SubscriberQueue)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	home := t.TempDir()
	body := `{
  // local overrides
  daemon: { listen: "0.0.0.0:9000" },
  agents: { default_model: "test-model" },
  worktrees: { setup_commands: ["npm install"] },
}`
	if err := os.WriteFile(filepath.Join(home, "config.json5"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Daemon.Listen)
	}
	if cfg.Agents.DefaultModel != "test-model" {
		t.Errorf("DefaultModel = %q", cfg.Agents.DefaultModel)
	}
	if len(cfg.Worktrees.SetupCommands) != 1 || cfg.Worktrees.SetupCommands[0] != "npm install" {
		t.Errorf("SetupCommands = %v", cfg.Worktrees.SetupCommands)
	}
	// Untouched sections keep defaults.
	if cfg.Agents.MaxToolIterations != 40 {
		t.Errorf("MaxToolIterations = %d, want 40", cfg.Agents.MaxToolIterations)
	}
}

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*Config) bool
	}{
		{"listen", "PASEO_LISTEN", "127.0.0.1:1234", func(c *Config) bool { return c.Daemon.Listen == "127.0.0.1:1234" }},
		{"relay endpoint", "PASEO_RELAY_ENDPOINT", "relay.example.com:443", func(c *Config) bool { return c.Relay.Endpoint == "relay.example.com:443" }},
		{"server id", "PASEO_SERVER_ID", "srv_fixed", func(c *Config) bool { return c.Daemon.ServerID == "srv_fixed" }},
		{"cors origins", "PASEO_CORS_ORIGINS", "https://a.test, https://b.test", func(c *Config) bool {
			return len(c.Daemon.CORSOrigins) == 2 && c.Daemon.CORSOrigins[1] == "https://b.test"
		}},
		{"anthropic key", "PASEO_ANTHROPIC_API_KEY", "sk-test", func(c *Config) bool { return c.Providers.Anthropic.APIKey == "sk-test" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := Load(t.TempDir())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("override %s=%s not applied", tt.key, tt.value)
			}
		})
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	home := t.TempDir()
	body := `{ daemon: { listen: "0.0.0.0:9000" } }`
	if err := os.WriteFile(filepath.Join(home, "config.json5"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PASEO_LISTEN", "127.0.0.1:7777")

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Listen != "127.0.0.1:7777" {
		t.Errorf("Listen = %q, env should win", cfg.Daemon.Listen)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-secret"
	cfg.Providers.OpenAI.APIKey = ""

	cp := cfg.MaskedCopy()
	if cp.Providers.Anthropic.APIKey != "***" {
		t.Errorf("anthropic key = %q, want masked", cp.Providers.Anthropic.APIKey)
	}
	if cp.Providers.OpenAI.APIKey != "" {
		t.Errorf("empty key should stay empty, got %q", cp.Providers.OpenAI.APIKey)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-secret" {
		t.Errorf("original mutated")
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	home := t.TempDir()
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-secret"
	if err := Save(home, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(Path(home))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Errorf("secret persisted to disk")
	}
}
