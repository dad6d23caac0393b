package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
)

var (
	analyzeWorkspace string
	analyzeProject   string
	analyzeName      string

	clarifyAnswers map[string]string
	clarifyConfirm bool

	costRemoved []string

	tfProvider string
	tfOutDir   string
	tfFile     string

	feedbackWorkspace string
	feedbackRating    int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [description...]",
	Short: "Analyze a project description into an infrastructure spec",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDescription(args)
		if err != nil {
			return err
		}
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		resp, err := client.Analyze(cmd.Context(), apiclient.AnalyzeRequest{
			Description: text,
			WorkspaceID: analyzeWorkspace,
			ProjectID:   analyzeProject,
			Name:        analyzeName,
		})
		if err != nil {
			return err
		}
		if err := saveAnalysis(cmd, resp); err != nil {
			return err
		}
		return printResult(resp)
	},
}

var clarifyCmd = &cobra.Command{
	Use:   "clarify <workspace-id>",
	Short: "Answer clarification questions or confirm the spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		resp, err := client.Clarify(cmd.Context(), apiclient.ClarifyRequest{
			WorkspaceID: args[0],
			Answers:     clarifyAnswers,
			Confirmed:   clarifyConfirm,
		})
		if err != nil {
			return err
		}
		if resp.WorkspaceID == "" {
			resp.WorkspaceID = args[0]
		}
		if err := saveAnalysis(cmd, resp); err != nil {
			return err
		}
		return printResult(resp)
	},
}

// saveAnalysis stores the returned spec and moves the wizard on.
func saveAnalysis(cmd *cobra.Command, resp *apiclient.AnalyzeResponse) error {
	if resp.WorkspaceID == "" || len(resp.InfraSpec) == 0 {
		return nil
	}
	next := core.StepUsage
	if resp.NeedsClarification() {
		next = core.StepClarify
	}
	return withSession(cmd.Context(), resp.WorkspaceID, func(r *wizardRun) error {
		if err := r.sess.SetField("infraSpec", resp.InfraSpec); err != nil {
			return err
		}
		return r.sess.Advance(next)
	})
}

var predictUsageCmd = &cobra.Command{
	Use:   "predict-usage <workspace-id>",
	Short: "Predict the usage profile of a workspace's spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			state := r.sess.State()
			resp, err := r.client.PredictUsage(cmd.Context(), apiclient.UsageRequest{
				WorkspaceID: args[0],
				InfraSpec:   state.InfraSpec,
			})
			if err != nil {
				return err
			}
			if len(resp.UsageProfile) > 0 {
				if err := r.sess.SetField("usageProfile", resp.UsageProfile); err != nil {
					return err
				}
				if err := r.sess.Advance(core.StepCost); err != nil {
					return err
				}
			}
			return printResult(resp)
		})
	},
}

var costCmd = &cobra.Command{
	Use:   "cost <workspace-id>",
	Short: "Estimate and rank monthly cost per provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			if cmd.Flags().Changed("remove") {
				if err := r.sess.SetRemovedServices(costRemoved); err != nil {
					return err
				}
			}
			state := r.sess.State()
			est, err := r.client.CostAnalysis(cmd.Context(), apiclient.CostRequest{
				WorkspaceID:     args[0],
				InfraSpec:       state.InfraSpec,
				UsageProfile:    state.UsageProfile,
				RemovedServices: state.RemovedServices,
			})
			if err != nil {
				return err
			}
			if len(est.Raw) > 0 {
				if err := r.sess.SetField("costEstimation", est.Raw); err != nil {
					return err
				}
			}
			if state.SelectedProvider == "" && est.Recommended != "" {
				if _, err := r.sess.SelectProvider(est.Recommended); err != nil {
					return err
				}
			}
			if err := r.sess.Advance(core.StepTerraform); err != nil {
				return err
			}
			return printResult(est)
		})
	},
}

var terraformCmd = &cobra.Command{
	Use:   "terraform",
	Short: "Generate or export Terraform for a workspace",
}

var terraformGenerateCmd = &cobra.Command{
	Use:   "generate <workspace-id>",
	Short: "Generate Terraform files for the selected provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			if tfProvider != "" {
				view, err := r.sess.SelectProvider(tfProvider)
				if err != nil {
					return err
				}
				if view.Mismatch {
					fmt.Fprintf(os.Stderr, "Note: the saved cloud link is for %s; connect %s before provisioning.\n", view.SavedProvider, tfProvider)
				}
			}
			state := r.sess.State()
			if state.SelectedProvider == "" {
				return core.NewAppError(core.ErrInvalidInput, "no provider selected; pass --provider")
			}
			proj, err := r.client.GenerateTerraform(cmd.Context(), apiclient.TerraformRequest{
				WorkspaceID: args[0],
				Provider:    state.SelectedProvider,
				InfraSpec:   state.InfraSpec,
			})
			if err != nil {
				return err
			}
			if tfOutDir != "" {
				if err := writeFiles(tfOutDir, proj.Files); err != nil {
					return err
				}
			}
			if err := r.sess.Advance(core.StepConnect); err != nil {
				return err
			}
			return printResult(proj)
		})
	},
}

// writeFiles writes generated files below dir, refusing paths that escape it.
func writeFiles(dir string, files map[string]string) error {
	for _, name := range sortedKeys(files) {
		clean := filepath.Clean(filepath.FromSlash(name))
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("refusing to write %q outside %s", name, dir)
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

var terraformExportCmd = &cobra.Command{
	Use:   "export <workspace-id>",
	Short: "Download the Terraform project archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		path := tfFile
		if path == "" {
			path = fmt.Sprintf("infrawiz-%s.zip", args[0])
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		n, err := client.ExportTerraform(cmd.Context(), args[0], f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
			return err
		}
		fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", path, n)
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <message...>",
	Short: "Send feedback about the generated infrastructure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		fb := apiclient.Feedback{WorkspaceID: feedbackWorkspace, Rating: feedbackRating, Message: strings.Join(args, " ")}
		// feedback never fails the command
		if err := client.SubmitFeedback(cmd.Context(), fb); err != nil {
			log.Warn("feedback not delivered", zap.String("workspace_id", fb.WorkspaceID), zap.Error(err))
		}
		fmt.Fprintln(stdout, "Thanks for your feedback!")
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&descriptionFile, "file", "f", "", "read the description from a file")
	analyzeCmd.Flags().StringVar(&analyzeWorkspace, "workspace", "", "existing workspace to analyze into")
	analyzeCmd.Flags().StringVar(&analyzeProject, "project", "", "project id for a new workspace")
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "name for a new workspace")

	clarifyCmd.Flags().StringToStringVar(&clarifyAnswers, "answer", nil, "answer a question (question-id=answer)")
	clarifyCmd.Flags().BoolVar(&clarifyConfirm, "confirm", false, "confirm the spec as is")

	costCmd.Flags().StringSliceVar(&costRemoved, "remove", nil, "services to leave out of the estimate")

	terraformGenerateCmd.Flags().StringVar(&tfProvider, "provider", "", "target provider (aws, azure, gcp)")
	terraformGenerateCmd.Flags().StringVar(&tfOutDir, "dir", "", "write generated files into this directory")
	terraformExportCmd.Flags().StringVarP(&tfFile, "file", "f", "", "archive path (default infrawiz-<workspace-id>.zip)")
	terraformCmd.AddCommand(terraformGenerateCmd, terraformExportCmd)

	feedbackCmd.Flags().StringVar(&feedbackWorkspace, "workspace", "", "workspace the feedback is about")
	feedbackCmd.Flags().IntVar(&feedbackRating, "rating", 0, "rating from 1 to 5")

	rootCmd.AddCommand(analyzeCmd, clarifyCmd, predictUsageCmd, costCmd, terraformCmd, feedbackCmd)
}
