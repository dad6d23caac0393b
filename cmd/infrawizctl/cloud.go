package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/wizard"
)

var (
	connectReq         apiclient.ConnectRequest
	disconnectProvider string
)

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Link a workspace to a cloud account",
}

var cloudConnectCmd = &cobra.Command{
	Use:   "connect <workspace-id> <provider>",
	Short: "Connect a cloud account (aws, azure, gcp)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			if r.sess.State().SelectedProvider != args[1] {
				if _, err := r.sess.SelectProvider(args[1]); err != nil {
					return err
				}
			}
			req := connectReq
			req.WorkspaceID = args[0]
			conn, err := r.client.ConnectCloud(cmd.Context(), args[1], req)
			if err != nil {
				return err
			}
			if err := r.sess.SetConnection(conn); err != nil {
				return err
			}
			return printResult(r.sess.Connection())
		})
	},
}

var cloudVerifyCmd = &cobra.Command{
	Use:   "verify <workspace-id>",
	Short: "Verify the AWS role stack and record the connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if connectReq.ExternalID == "" {
			return core.NewAppError(core.ErrInvalidInput, "--external-id is required")
		}
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			conn, err := r.client.VerifyAWS(cmd.Context(), apiclient.AWSVerifyRequest{
				WorkspaceID: args[0],
				RoleARN:     connectReq.RoleARN,
				ExternalID:  connectReq.ExternalID,
			})
			if err != nil {
				return err
			}
			if err := r.sess.SetConnection(conn); err != nil {
				return err
			}
			return printResult(r.sess.Connection())
		})
	},
}

var cloudDisconnectCmd = &cobra.Command{
	Use:   "disconnect <workspace-id>",
	Short: "Remove the saved cloud link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(r *wizardRun) error {
			provider := disconnectProvider
			if state := r.sess.State(); provider == "" && state.Connection != nil {
				provider = state.Connection.Provider
			}
			if provider == "" {
				fmt.Fprintln(stdout, "No cloud account is linked.")
				return nil
			}
			if err := r.client.DisconnectCloud(cmd.Context(), apiclient.DisconnectRequest{
				WorkspaceID: args[0],
				Provider:    provider,
			}); err != nil {
				return err
			}
			if err := r.sess.SetConnection(nil); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Disconnected %s\n", provider)
			return nil
		})
	},
}

var cloudDeleteStackCmd = &cobra.Command{
	Use:   "delete-stack <workspace-id>",
	Short: "Delete the AWS role stack created for the workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		if err := client.DeleteAWSStack(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "AWS stack deletion requested")
		return nil
	},
}

var cloudStatusCmd = &cobra.Command{
	Use:   "status <workspace-id>",
	Short: "Show the connection for the selected provider",
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
		view := wizard.ReconcileConnection(ws.State)
		if view.Mismatch {
			log.Warn("saved cloud connection is for a different provider")
		}
		return printResult(view)
	},
}

func init() {
	f := cloudConnectCmd.Flags()
	f.StringVar(&connectReq.AccountID, "account-id", "", "AWS account id")
	f.StringVar(&connectReq.RoleARN, "role-arn", "", "AWS cross-account role ARN")
	f.StringVar(&connectReq.ExternalID, "external-id", "", "AWS external id")
	f.StringVar(&connectReq.SubscriptionID, "subscription-id", "", "Azure subscription id")
	f.StringVar(&connectReq.TenantID, "tenant-id", "", "Azure tenant id")
	f.StringVar(&connectReq.ProjectID, "project-id", "", "GCP project id")

	cloudVerifyCmd.Flags().StringVar(&connectReq.RoleARN, "role-arn", "", "AWS cross-account role ARN")
	cloudVerifyCmd.Flags().StringVar(&connectReq.ExternalID, "external-id", "", "AWS external id")

	cloudDisconnectCmd.Flags().StringVar(&disconnectProvider, "provider", "", "provider to unlink (default: the saved one)")

	cloudCmd.AddCommand(cloudConnectCmd, cloudVerifyCmd, cloudDisconnectCmd, cloudDeleteStackCmd, cloudStatusCmd)
	rootCmd.AddCommand(cloudCmd)
}
