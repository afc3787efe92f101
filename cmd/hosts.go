package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paseohq/paseo/internal/dialer"
)

func hostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List paired hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHosts()
		},
	}
}

func runHosts() error {
	reg := dialer.NewRegistry(resolveHome(), slog.Default())
	profiles, err := reg.List()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No paired hosts. Run `paseo pair <url>` first.")
		return nil
	}

	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		kinds := make([]string, 0, len(p.Connections))
		for _, c := range p.Connections {
			kinds = append(kinds, c.Type)
		}
		rows = append(rows, []string{
			p.Label,
			p.ServerID,
			strings.Join(kinds, ","),
			p.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	printTable([]string{"LABEL", "SERVER ID", "CONNECTIONS", "UPDATED"}, rows)
	return nil
}
