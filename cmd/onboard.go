package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	home := resolveHome()
	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load existing config: %s\n", err)
		os.Exit(1)
	}

	listen := cfg.Daemon.Listen
	relayEndpoint := cfg.Relay.Endpoint
	provider := cfg.Agents.DefaultProvider
	model := cfg.Agents.DefaultModel
	voice := cfg.Voice.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Where the daemon accepts direct websocket clients.").
				Value(&listen),
			huh.NewInput().
				Title("Relay endpoint").
				Description("host:port of a `paseo relay` instance; leave empty for direct-only.").
				Value(&relayEndpoint),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Default model").
				Value(&model),
			huh.NewConfirm().
				Title("Enable voice dictation?").
				Description("Requires an OpenAI API key for transcription.").
				Value(&voice),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "onboard cancelled: %s\n", err)
		os.Exit(1)
	}

	cfg.Daemon.Listen = strings.TrimSpace(listen)
	cfg.Relay.Endpoint = strings.TrimSpace(relayEndpoint)
	cfg.Agents.DefaultProvider = provider
	cfg.Agents.DefaultModel = strings.TrimSpace(model)
	cfg.Voice.Enabled = voice

	if err := config.Save(home, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", config.Path(home))
	fmt.Println()
	fmt.Println("API keys are read from the environment, never from the config file:")
	fmt.Println("  PASEO_ANTHROPIC_API_KEY (or ANTHROPIC_API_KEY)")
	fmt.Println("  PASEO_OPENAI_API_KEY    (or OPENAI_API_KEY)")
	fmt.Println()
	fmt.Println("Start the daemon with `paseo daemon`.")
}
