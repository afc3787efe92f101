package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/daemon"
	"github.com/paseohq/paseo/internal/pairing"
)

// pairingHost serves the client shell; the offer rides in the URL fragment
// and never reaches it.
const pairingHost = "pair.paseo.dev"

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the workstation daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon()
		},
	}
}

func runDaemon() {
	setupLogging()

	home := resolveHome()
	cfg, err := config.Load(home)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg, Version, slog.Default())
	if err != nil {
		slog.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}

	printOffer(d.Offer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func printOffer(offer pairing.ConnectionOfferV2) {
	url, err := pairing.OfferURL(pairingHost, offer)
	if err != nil {
		// No relay endpoint configured; direct pairing still works.
		slog.Info("pairing_offer_unavailable", "reason", err)
		return
	}
	fmt.Println()
	fmt.Println("Pair a client with this URL (or `paseo pair <url>`):")
	fmt.Printf("  %s\n", url)
	fmt.Println()
}
