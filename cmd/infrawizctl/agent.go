package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect the infrawiz agent",
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent liveness, readiness and running watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := NewAgentClient(agentURL)

		if err := client.Get(ctx, "/healthz", nil); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Agent %s: up\n", agentURL)

		if err := client.Get(ctx, "/readyz", nil); err != nil {
			fmt.Fprintln(stdout, "Ready: no (database unavailable)")
			return errSilent
		}
		fmt.Fprintln(stdout, "Ready: yes")

		var resp WatchListResponse
		if err := client.Get(ctx, "/v1/watches?status=running&limit=500", &resp); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Running watches: %d\n", len(resp.Watches))
		return nil
	},
}

func init() {
	agentCmd.AddCommand(agentStatusCmd)
	rootCmd.AddCommand(agentCmd)
}
