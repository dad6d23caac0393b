package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/poller"
)

var (
	noWait            bool
	provisionProvider string

	deployReq apiclient.AppDeployRequest
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision or destroy a workspace's infrastructure",
}

var provisionStartCmd = &cobra.Command{
	Use:   "start <workspace-id>",
	Short: "Apply the generated Terraform with the connected cloud account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), args[0], core.JobProvision, func(r *wizardRun) error {
			if provisionProvider != "" {
				if _, err := r.sess.SelectProvider(provisionProvider); err != nil {
					return err
				}
			}
			if view := r.sess.Connection(); !view.Connected() {
				return core.NewAppError(core.ErrInvalidInput,
					"No connected cloud account for this provider. Run infrawizctl cloud connect first.")
			}
			return r.sess.Advance(core.StepProvision)
		}, core.StepDeploy)
	},
}

var provisionDestroyCmd = &cobra.Command{
	Use:   "destroy <workspace-id>",
	Short: "Destroy the provisioned infrastructure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), args[0], core.JobDestroy, nil, core.StepProvision)
	},
}

var provisionWatchCmd = &cobra.Command{
	Use:   "watch <workspace-id>",
	Short: "Follow a running provision or destroy job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchKinds(cmd.Context(), args[0], core.JobProvision, core.JobDestroy)
	},
}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Deploy an application onto provisioned infrastructure",
}

var appDeployCmd = &cobra.Command{
	Use:   "deploy <workspace-id>",
	Short: "Deploy a GitHub repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deployReq.Repo == "" || deployReq.Branch == "" {
			return core.NewAppError(core.ErrInvalidInput, "--repo and --branch are required")
		}
		return runJob(cmd.Context(), args[0], core.JobAppDeploy, func(r *wizardRun) error {
			return r.sess.Advance(core.StepDeploy)
		}, core.StepDone)
	},
}

var appWatchCmd = &cobra.Command{
	Use:   "watch <workspace-id>",
	Short: "Follow a running app deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchKinds(cmd.Context(), args[0], core.JobAppDeploy)
	},
}

// runJob starts kind on workspace id after prepare and, unless --no-wait,
// follows it. A successful job advances the wizard to next.
func runJob(ctx context.Context, id string, kind core.JobKind, prepare func(*wizardRun) error, next core.WizardStep) error {
	return withSession(ctx, id, func(r *wizardRun) error {
		if prepare != nil {
			if err := prepare(r); err != nil {
				return err
			}
		}
		p, err := r.sess.StartJob(ctx, kind, deployReq)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Started %s job %s\n", kind, p.JobID())
		if noWait {
			return nil
		}
		return follow(ctx, r, p, next)
	})
}

// watchKinds resumes the recorded running jobs of workspace id and follows
// the first of kinds that is running.
func watchKinds(ctx context.Context, id string, kinds ...core.JobKind) error {
	return withSession(ctx, id, func(r *wizardRun) error {
		r.sess.Hydrate(r.ws.State)
		for _, kind := range kinds {
			if p, ok := r.polls.Get(id, kind); ok {
				fmt.Fprintf(stdout, "Watching %s job %s\n", kind, p.JobID())
				return follow(ctx, r, p, "")
			}
		}
		state := r.sess.State()
		for _, kind := range kinds {
			if status, jobID := state.Job(kind); jobID != "" {
				fmt.Fprintf(stdout, "No running job; last %s job %s is %s\n", kind, jobID, status)
				return nil
			}
		}
		fmt.Fprintln(stdout, "No job recorded for this workspace.")
		return nil
	})
}

func follow(ctx context.Context, r *wizardRun, p *poller.Poller, next core.WizardStep) error {
	snap, err := waitJob(ctx, p)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if snap.Phase == core.PhaseSucceeded && next != "" {
		if err := r.sess.Advance(next); err != nil {
			return err
		}
	}
	return jobResult(snap)
}

func init() {
	for _, c := range []*cobra.Command{provisionStartCmd, provisionDestroyCmd, appDeployCmd} {
		c.Flags().BoolVar(&noWait, "no-wait", false, "start the job and return without watching it")
	}
	provisionStartCmd.Flags().StringVar(&provisionProvider, "provider", "", "select the target provider first")

	f := appDeployCmd.Flags()
	f.StringVar(&deployReq.Repo, "repo", "", "GitHub repository (owner/name)")
	f.StringVar(&deployReq.Branch, "branch", "", "branch to deploy")
	f.StringVar(&deployReq.Framework, "framework", "", "framework, as detected by infrawizctl github detect")
	f.StringVar(&deployReq.BuildCommand, "build-command", "", "build command")
	f.StringVar(&deployReq.StartCommand, "start-command", "", "start command")
	f.IntVar(&deployReq.Port, "port", 0, "port the app listens on")
	f.StringToStringVar(&deployReq.Env, "env", nil, "environment variables (KEY=VALUE)")

	provisionCmd.AddCommand(provisionStartCmd, provisionDestroyCmd, provisionWatchCmd)
	appCmd.AddCommand(appDeployCmd, appWatchCmd)
	rootCmd.AddCommand(provisionCmd, appCmd)
}
