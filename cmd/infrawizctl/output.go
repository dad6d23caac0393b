package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/validate"
	"github.com/lzjever/infrawiz/internal/wizard"
)

var stdout io.Writer = os.Stdout

func printResult(v interface{}) error {
	switch output {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return printYAML(stdout, v)
	}
	printTable(stdout, v)
	return nil
}

// printYAML goes through JSON so json tags and raw JSON fields render as
// they do in -o json.
func printYAML(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func printTable(out io.Writer, v interface{}) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	switch data := v.(type) {
	case []core.Workspace:
		if len(data) == 0 {
			fmt.Fprintln(w, "No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tNAME\tSTEP\tPROVIDER\tDEPLOYED\tREVISION")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\n", ws.ID, truncate(ws.Name, 30), ws.Step,
				ws.State.SelectedProvider, ws.State.IsDeployed, ws.Revision)
		}
	case *core.Workspace:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Name:\t%s\n", data.Name)
		fmt.Fprintf(w, "Step:\t%s\n", data.Step)
		fmt.Fprintf(w, "Revision:\t%d\n", data.Revision)
		fmt.Fprintf(w, "Provider:\t%s\n", data.State.SelectedProvider)
		fmt.Fprintf(w, "Deployed:\t%t\n", data.State.IsDeployed)
		fmt.Fprintf(w, "Live:\t%t\n", data.State.IsLive)
		conn := wizard.ReconcileConnection(data.State)
		fmt.Fprintf(w, "Connection:\t%s\n", connectionText(conn))
		for _, kind := range core.JobKinds {
			if status, id := data.State.Job(kind); id != "" {
				fmt.Fprintf(w, "Job %s:\t%s (%s)\n", kind, status, id)
			}
		}
		if len(data.State.RemovedServices) > 0 {
			fmt.Fprintf(w, "Removed services:\t%s\n", strings.Join(data.State.RemovedServices, ", "))
		}
	case wizard.ConnectionView:
		fmt.Fprintf(w, "Connection:\t%s\n", connectionText(data))
	case validate.Result:
		if data.IsValid {
			fmt.Fprintln(w, "Description looks good.")
		} else {
			fmt.Fprintf(w, "Invalid:\t%s\n", data.Error)
		}
	case *apiclient.AnalyzeResponse:
		fmt.Fprintf(w, "Workspace:\t%s\n", data.WorkspaceID)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		if data.Summary != "" {
			fmt.Fprintf(w, "Summary:\t%s\n", data.Summary)
		}
		for _, q := range data.Questions {
			fmt.Fprintf(w, "Question %s:\t%s\n", q.ID, q.Question)
			if len(q.Options) > 0 {
				fmt.Fprintf(w, "\toptions: %s\n", strings.Join(q.Options, " | "))
			}
		}
	case *apiclient.CostEstimate:
		if len(data.Rankings) == 0 {
			fmt.Fprintln(w, "No cost estimate returned.")
			return
		}
		fmt.Fprintln(w, "RANK\tPROVIDER\tMONTHLY\tRECOMMENDED")
		for i, c := range data.Rankings {
			rank := c.Rank
			if rank == 0 {
				rank = i + 1
			}
			mark := ""
			if c.Provider == data.Recommended {
				mark = "*"
			}
			fmt.Fprintf(w, "%d\t%s\t%.2f %s\t%s\n", rank, c.Provider, c.MonthlyCost, currency(c.Currency), mark)
		}
	case *apiclient.TerraformProject:
		fmt.Fprintln(w, "FILE\tBYTES")
		for _, name := range sortedKeys(data.Files) {
			fmt.Fprintf(w, "%s\t%d\n", name, len(data.Files[name]))
		}
	case []apiclient.Repo:
		if len(data) == 0 {
			fmt.Fprintln(w, "No repositories found.")
			return
		}
		fmt.Fprintln(w, "REPOSITORY\tDEFAULT BRANCH\tPRIVATE")
		for _, r := range data {
			fmt.Fprintf(w, "%s\t%s\t%t\n", r.FullName, r.DefaultBranch, r.Private)
		}
	case []string:
		for _, s := range data {
			fmt.Fprintln(w, s)
		}
	case core.JobSnapshot:
		fmt.Fprintf(w, "Job:\t%s (%s)\n", data.JobID, data.Kind)
		fmt.Fprintf(w, "Phase:\t%s\n", data.Phase)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Polls:\t%d\n", data.Ticks)
	case []WatchRow:
		if len(data) == 0 {
			fmt.Fprintln(w, "No watches found.")
			return
		}
		fmt.Fprintln(w, "WATCH ID\tWORKSPACE\tKIND\tJOB\tSTATUS\tTICKS\tCREATED")
		for _, r := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", core.ShortID(r.WatchID), r.WorkspaceID, r.Kind, r.JobID, r.Status, r.Ticks, r.CreatedAt)
		}
	case WatchRow:
		fmt.Fprintf(w, "Watch ID:\t%s\n", data.WatchID)
		fmt.Fprintf(w, "Workspace:\t%s\n", data.WorkspaceID)
		fmt.Fprintf(w, "Job:\t%s (%s)\n", data.JobID, data.Kind)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		if data.JobStatus != "" {
			fmt.Fprintf(w, "Job status:\t%s\n", data.JobStatus)
		}
		if data.Error != "" {
			fmt.Fprintf(w, "Error:\t%s\n", data.Error)
		}
		for _, l := range data.Logs {
			fmt.Fprintf(w, "  %s\n", l.Message)
		}
	default:
		w.Flush()
		printYAML(out, v)
	}
}

func connectionText(v wizard.ConnectionView) string {
	c := v.Connection
	text := string(c.Status)
	if c.Provider != "" {
		text = c.Provider + " " + text
	}
	if v.Mismatch {
		text += fmt.Sprintf(" (saved link is for %s)", v.SavedProvider)
	}
	return text
}

func currency(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
