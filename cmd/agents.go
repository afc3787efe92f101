package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/pkg/protocol"
)

func agentsCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "agents [host]",
		Short: "List agents on a paired host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := ""
			if len(args) == 1 {
				host = args[0]
			}
			return runAgents(host, includeArchived)
		},
	}
	cmd.Flags().BoolVarP(&includeArchived, "all", "a", false, "include archived agents")
	return cmd
}

func runAgents(host string, includeArchived bool) error {
	setupLogging()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connectHost(ctx, host)
	if err != nil {
		return err
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result protocol.FetchAgentsResult
	req := protocol.FetchAgentsRequest{IncludeArchived: includeArchived}
	if err := call(callCtx, conn, protocol.MsgFetchAgents, req, &result); err != nil {
		return err
	}
	if len(result.Agents) == 0 {
		fmt.Println("No agents.")
		return nil
	}

	rows := make([][]string, 0, len(result.Agents))
	for _, a := range result.Agents {
		title := a.Title
		if title == "" {
			title = "(untitled)"
		}
		rows = append(rows, []string{
			shortID(a.ID),
			title,
			a.Lifecycle,
			a.Mode,
			a.Cwd,
		})
	}
	printTable([]string{"ID", "TITLE", "STATE", "MODE", "CWD"}, rows)
	return nil
}

// shortID trims an agent id to the prefix length the daemon resolves.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
