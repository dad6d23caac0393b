package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
)

var (
	wsCreateProject string
	wsSetFields     []string
	wsStep          string
	wsDeleteYes     bool
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		list, err := client.ListWorkspaces(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(list)
	},
}

var workspaceGetCmd = &cobra.Command{
	Use:   "get <workspace-id>",
	Short: "Show a workspace and its wizard state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		ws, err := client.GetWorkspace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(ws)
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		ws, err := client.CreateWorkspace(cmd.Context(), apiclient.CreateWorkspaceRequest{
			ProjectID: wsCreateProject,
			Name:      args[0],
		})
		if err != nil {
			return err
		}
		return printResult(ws)
	},
}

var workspaceSaveCmd = &cobra.Command{
	Use:   "save <workspace-id>",
	Short: "Edit top-level state fields or the wizard step",
	Example: `  infrawizctl workspace save ws-1 --set selectedProvider='"gcp"'
  infrawizctl workspace save ws-1 --set removedServices='["redis"]' --step cost`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parseSetFlags(wsSetFields)
		if err != nil {
			return err
		}
		var step core.WizardStep
		if wsStep != "" {
			if step, err = parseStep(wsStep); err != nil {
				return err
			}
		}
		if len(patch) == 0 && step == "" {
			return core.NewAppError(core.ErrInvalidInput, "nothing to save; use --set or --step")
		}
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			for _, k := range sortedPatchKeys(patch) {
				if err := r.sess.SetField(k, patch[k]); err != nil {
					return err
				}
			}
			if step != "" {
				if err := r.sess.Advance(step); err != nil {
					return err
				}
			}
			if err := r.sess.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Workspace %s saved\n", args[0])
			return nil
		})
	},
}

// parseSetFlags turns key=value pairs into a patch. Values that parse as
// JSON are stored as such, anything else as a string, and key= removes
// the field.
func parseSetFlags(pairs []string) (core.StatePatch, error) {
	patch := core.StatePatch{}
	for _, kv := range pairs {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, core.NewAppError(core.ErrInvalidInput, fmt.Sprintf("--set %q: expected key=value", kv))
		}
		switch {
		case val == "":
			patch[key] = nil
		case json.Valid([]byte(val)):
			patch[key] = json.RawMessage(val)
		default:
			patch[key] = val
		}
	}
	return patch, nil
}

func sortedPatchKeys(p core.StatePatch) []string {
	m := make(map[string]string, len(p))
	for k := range p {
		m[k] = ""
	}
	return sortedKeys(m)
}

func parseStep(s string) (core.WizardStep, error) {
	for _, st := range core.Steps {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(core.Steps))
	for i, st := range core.Steps {
		names[i] = string(st)
	}
	return "", core.NewAppError(core.ErrInvalidInput,
		fmt.Sprintf("unknown step %q (one of %s)", s, strings.Join(names, ", ")))
}

var workspaceMarkDeployedCmd = &cobra.Command{
	Use:   "mark-deployed <workspace-id>",
	Short: "Mark a workspace as deployed, making it read-only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		ws, err := client.MarkDeployed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(ws)
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wsDeleteYes {
			return core.NewAppError(core.ErrInvalidInput, "refusing to delete without --yes")
		}
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		if err := client.DeleteWorkspace(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Workspace %s deleted\n", args[0])
		return nil
	},
}

var workspaceResumeCmd = &cobra.Command{
	Use:   "resume <workspace-id>",
	Short: "Resume polling every job the workspace records as running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, args[0], func(r *wizardRun) error {
			kinds := r.sess.Hydrate(r.ws.State)
			if len(kinds) == 0 {
				fmt.Fprintf(stdout, "Workspace %s has no running jobs (step %s)\n", args[0], r.sess.Step())
				return nil
			}
			var failed error
			for _, kind := range kinds {
				p, ok := r.polls.Get(args[0], kind)
				if !ok {
					// finished between Hydrate and here
					continue
				}
				fmt.Fprintf(stdout, "Resumed %s job %s\n", kind, p.JobID())
				if err := follow(ctx, r, p, ""); err != nil && failed == nil {
					failed = err
				}
				if ctx.Err() != nil {
					break
				}
			}
			return failed
		})
	},
}

func init() {
	workspaceCreateCmd.Flags().StringVar(&wsCreateProject, "project", "", "project id")
	workspaceSaveCmd.Flags().StringArrayVar(&wsSetFields, "set", nil, "set a state field (key=json)")
	workspaceSaveCmd.Flags().StringVar(&wsStep, "step", "", "move the wizard to this step")
	workspaceDeleteCmd.Flags().BoolVar(&wsDeleteYes, "yes", false, "confirm deletion")
	workspaceCmd.AddCommand(workspaceListCmd, workspaceGetCmd, workspaceCreateCmd, workspaceSaveCmd,
		workspaceMarkDeployedCmd, workspaceDeleteCmd, workspaceResumeCmd)
	rootCmd.AddCommand(workspaceCmd)
}
