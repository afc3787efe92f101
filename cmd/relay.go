package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/relay"
)

func relayCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the standalone relay service",
		Long: "The relay is a blind rendezvous point: daemons register their server id,\n" +
			"clients join it, and frames pass through opaquely in both directions.",
		Run: func(cmd *cobra.Command, args []string) {
			runRelay(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, then 0.0.0.0:8788)")
	return cmd
}

func runRelay(listen string) {
	setupLogging()

	cfg, err := config.Load(resolveHome())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	if listen == "" {
		listen = snap.Relay.Listen
	}
	if listen == "" {
		listen = "0.0.0.0:8788"
	}

	srv := relay.NewServer(relay.Config{
		IdleTTL:        time.Duration(snap.Relay.IdleTTLSec) * time.Second,
		HighWaterBytes: int64(snap.Relay.HighWaterKB) << 10,
		SendQueue:      snap.Relay.SendQueueSize,
	}, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("relay_starting", "listen", listen)
	if err := srv.Start(ctx, listen); err != nil && ctx.Err() == nil {
		slog.Error("relay exited", "error", err)
		os.Exit(1)
	}
}
