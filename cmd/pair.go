package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/dialer"
	"github.com/paseohq/paseo/internal/pairing"
)

func pairCmd() *cobra.Command {
	var label string
	var direct string
	cmd := &cobra.Command{
		Use:   "pair <url|->",
		Short: "Store a host profile from a pairing URL",
		Long: "Decode a pairing URL (or a bare offer read from stdin with `-`) and\n" +
			"merge it into the local host registry. Pairing is idempotent: offering\n" +
			"the same host twice updates the existing profile.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPair(args[0], direct, label)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "friendly name for the host")
	cmd.Flags().StringVar(&direct, "endpoint", "", "direct endpoint to record alongside the relay (host:port)")
	return cmd
}

func runPair(raw, direct, label string) error {
	if raw == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		if !scanner.Scan() {
			return fmt.Errorf("read offer from stdin: %w", scanner.Err())
		}
		raw = strings.TrimSpace(scanner.Text())
	}

	offer, err := pairing.ParseOfferURL(raw)
	if err != nil {
		// Tolerate a bare base64url offer pasted without the URL around it.
		offer, err = pairing.DecodeOffer(raw)
		if err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
	}

	reg := dialer.NewRegistry(resolveHome(), slog.Default())
	profile, err := reg.MergeOffer(offer, direct, label)
	if err != nil {
		return fmt.Errorf("store host profile: %w", err)
	}

	name := profile.Label
	if name == "" {
		name = profile.ServerID
	}
	fmt.Printf("Paired with %s (%d connection candidates)\n", name, len(profile.Connections))
	for _, c := range profile.Connections {
		fmt.Printf("  %-7s %s\n", c.Type, c.Endpoint)
	}
	return nil
}
