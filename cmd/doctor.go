package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("paseo doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// State dir
	home := resolveHome()
	fmt.Printf("  Home:     %s", home)
	if err := checkWritable(home); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Config:   %s", config.Path(home))
	if _, err := os.Stat(config.Path(home)); err != nil {
		fmt.Println(" (not found, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(home)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	snap := cfg.Snapshot()
	fmt.Printf("  Listen:   %s\n", snap.Daemon.Listen)

	// Providers
	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", snap.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", snap.Providers.OpenAI.APIKey)
	fmt.Printf("    %-12s %s\n", "Default:", snap.Agents.DefaultProvider)

	// Tooling the worktree engine shells out to.
	fmt.Println()
	fmt.Println("  Tools:")
	checkBinary("git", "worktrees and checkout operations")
	checkBinary("gh", "pull request creation and status")

	// Relay
	fmt.Println()
	if snap.Relay.Endpoint == "" {
		fmt.Println("  Relay:    not configured (direct connections only)")
	} else {
		fmt.Printf("  Relay:    %s", snap.Relay.Endpoint)
		if err := checkRelay(snap.Relay.Endpoint); err != nil {
			fmt.Printf(" (UNREACHABLE: %s)\n", err)
		} else {
			fmt.Println(" (OK)")
		}
	}

	// Voice
	if snap.Voice.Enabled {
		if snap.Providers.OpenAI.APIKey == "" {
			fmt.Println("  Voice:    enabled but OpenAI key missing — dictation will fail")
		} else {
			fmt.Printf("  Voice:    enabled (%s)\n", snap.Voice.STTModel)
		}
	} else {
		fmt.Println("  Voice:    disabled")
	}

	if n := len(snap.Agents.MCPServers); n > 0 {
		fmt.Printf("  MCP:      %d server(s) configured\n", n)
	}
}

func checkProvider(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s no API key\n", name+":")
		return
	}
	fmt.Printf("    %-12s key set (%d chars)\n", name+":", len(key))
}

func checkBinary(name, usedFor string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND — needed for %s\n", name+":", usedFor)
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", path)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkRelay(endpoint string) error {
	healthURL := endpoint
	if !strings.Contains(healthURL, "://") {
		healthURL = "http://" + healthURL
	}
	u, err := url.Parse(healthURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/healthz"

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
