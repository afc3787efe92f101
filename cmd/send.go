package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/pkg/protocol"
)

func sendCmd() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "send <agent> <prompt...>",
		Short: "Send a prompt to an agent and stream the run",
		Long: "Resolves the agent by exact id, unique prefix (>= 4 chars) or exact\n" +
			"title, submits the prompt, and prints events until the run ends.\n" +
			"Ctrl-C detaches; the run keeps going on the host.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(host, args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "paired host to connect to (default: the only one)")
	return cmd
}

func runSend(host, identifier, prompt string) error {
	setupLogging()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connectHost(ctx, host)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Resolve up front so event filtering can use the full id.
	resolveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var fetched protocol.FetchAgentResult
	if err := call(resolveCtx, conn, protocol.MsgFetchAgent, protocol.FetchAgentRequest{AgentID: identifier}, &fetched); err != nil {
		return err
	}
	agentID := fetched.Agent.ID

	var sent protocol.SendAgentMessageResult
	req := protocol.SendAgentMessageRequest{AgentID: agentID, Prompt: prompt}
	if err := call(resolveCtx, conn, protocol.MsgSendAgentMessage, req, &sent); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\ndetached; the run continues on the host")
			return nil
		case <-conn.Done():
			return conn.Err()
		case env, ok := <-conn.Events():
			if !ok {
				return conn.Err()
			}
			if env.Type != protocol.MsgAgentEvent {
				continue
			}
			var ev protocol.AgentEvent
			if err := env.DecodePayload(&ev); err != nil || ev.AgentID != agentID {
				continue
			}
			if done := printEvent(ev, sent.RunID); done {
				return nil
			}
		}
	}
}

// printEvent renders one agent event; returns true when the submitted run
// is over.
func printEvent(ev protocol.AgentEvent, runID string) bool {
	switch ev.Type {
	case protocol.AgentEventTextDelta:
		fmt.Print(ev.Text)
	case protocol.AgentEventToolCall:
		if ev.ToolCall != nil {
			fmt.Printf("\n[tool] %s\n", ev.ToolCall.Name)
		}
	case protocol.AgentEventPermissionRequested:
		if ev.Permission != nil {
			fmt.Printf("\n[permission needed] %s: respond from a connected client\n", ev.Permission.ToolName)
		}
	case protocol.AgentEventError:
		if ev.Error != nil {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Error.Message)
		}
	case protocol.AgentEventRunEnded:
		if ev.RunID != runID {
			return false
		}
		fmt.Printf("\n[run %s]\n", ev.EndState)
		return true
	}
	return false
}
