package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/core"
)

type WatchRow struct {
	WatchID     string          `json:"watch_id"`
	WorkspaceID string          `json:"workspace_id"`
	Kind        string          `json:"kind"`
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	JobStatus   string          `json:"job_status,omitempty"`
	Logs        []core.LogEntry `json:"logs"`
	Ticks       int32           `json:"ticks"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	EndedAt     string          `json:"ended_at,omitempty"`
}

func (w WatchRow) finished() bool {
	return w.Status != "running"
}

type WatchListResponse struct {
	Watches []WatchRow `json:"watches"`
}

var (
	watchListWorkspace string
	watchListStatus    string
	watchListLimit     int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage job watches on the infrawiz agent",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <workspace-id> <kind> <job-id>",
	Short: "Ask the agent to follow a backend job",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := core.ParseJobKind(args[1])
		if err != nil {
			return err
		}
		client := NewAgentClient(agentURL)
		var resp WatchRow
		body := map[string]string{"workspace_id": args[0], "kind": string(kind), "job_id": args[2]}
		if err := client.Post(cmd.Context(), "/v1/watches", body, &resp); err != nil {
			return err
		}
		return printResult(resp)
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if watchListWorkspace != "" {
			q.Set("workspace_id", watchListWorkspace)
		}
		if watchListStatus != "" {
			q.Set("status", watchListStatus)
		}
		if watchListLimit > 0 {
			q.Set("limit", fmt.Sprint(watchListLimit))
		}
		path := "/v1/watches"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var resp WatchListResponse
		if err := NewAgentClient(agentURL).Get(cmd.Context(), path, &resp); err != nil {
			return err
		}
		return printResult(resp.Watches)
	},
}

var watchGetCmd = &cobra.Command{
	Use:   "get <watch-id>",
	Short: "Show a watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp WatchRow
		if err := NewAgentClient(agentURL).Get(cmd.Context(), "/v1/watches/"+url.PathEscape(args[0]), &resp); err != nil {
			return err
		}
		return printResult(resp)
	},
}

var watchFollowCmd = &cobra.Command{
	Use:   "follow <watch-id>",
	Short: "Print a watch's progress until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := NewAgentClient(agentURL)
		printed := 0
		for {
			var resp WatchRow
			if err := client.Get(ctx, "/v1/watches/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			printed = printNewLogs(resp.Logs, printed)
			if resp.finished() {
				fmt.Fprintf(stdout, "Watch %s: %s (job %s %s)\n", core.ShortID(resp.WatchID), resp.Status, resp.JobID, resp.JobStatus)
				if resp.Error != "" {
					fmt.Fprintf(stdout, "Error: %s\n", resp.Error)
				}
				return nil
			}
			select {
			case <-ctx.Done():
				fmt.Fprintln(stdout, "Stopped following; the agent keeps watching the job.")
				return nil
			case <-time.After(pollInterval):
			}
		}
	},
}

var watchCancelCmd = &cobra.Command{
	Use:   "cancel <watch-id>",
	Short: "Stop watching a job (the backend job keeps running)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp WatchRow
		if err := NewAgentClient(agentURL).Post(cmd.Context(), "/v1/watches/"+url.PathEscape(args[0])+":cancel", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Watch %s status: %s\n", resp.WatchID, resp.Status)
		return nil
	},
}

// printNewLogs prints entries past the first already printed ones. Logs
// are replaced on each poll, so a shorter list restarts the count.
func printNewLogs(logs []core.LogEntry, already int) int {
	if already > len(logs) {
		already = 0
	}
	for _, l := range logs[already:] {
		if l.Timestamp != "" {
			fmt.Fprintf(stdout, "%s  %s\n", l.Timestamp, l.Message)
		} else {
			fmt.Fprintln(stdout, l.Message)
		}
	}
	return len(logs)
}

func init() {
	watchListCmd.Flags().StringVar(&watchListWorkspace, "workspace", "", "filter by workspace id")
	watchListCmd.Flags().StringVar(&watchListStatus, "status", "", "filter by status (running, succeeded, failed, canceled)")
	watchListCmd.Flags().IntVar(&watchListLimit, "limit", 0, "maximum number of watches")
	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchGetCmd, watchFollowCmd, watchCancelCmd)
	rootCmd.AddCommand(watchCmd)
}
