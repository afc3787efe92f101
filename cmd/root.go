package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/paseohq/paseo/cmd.Version=v1.0.0"
var Version = "dev"

var (
	homeFlag string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "paseo",
	Short: "Paseo — remote control plane for coding agents",
	Long: "Paseo runs coding agents on your workstation and lets paired clients\n" +
		"drive them from anywhere, directly or through a relay.",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "state directory (default: $PASEO_HOME or ~/.paseo)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(hostsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("paseo %s\n", Version)
		},
	}
}

func resolveHome() string {
	if homeFlag != "" {
		return config.ExpandHome(homeFlag)
	}
	return config.ResolveHome()
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
