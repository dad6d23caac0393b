package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/apiclient"
)

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "GitHub account and repository commands",
}

var githubStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a GitHub account is linked",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		st, err := client.GitHubStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(st)
	},
}

var githubReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories of the linked account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		repos, err := client.ListRepos(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(repos)
	},
}

var githubBranchesCmd = &cobra.Command{
	Use:   "branches <owner/repo>",
	Short: "List branches of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		branches, err := client.ListBranches(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(branches)
	},
}

var githubDetectCmd = &cobra.Command{
	Use:   "detect <owner/repo> <branch>",
	Short: "Detect the framework and build settings of a branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		det, err := client.DetectFramework(cmd.Context(), apiclient.DetectRequest{Repo: args[0], Branch: args[1]})
		if err != nil {
			return err
		}
		return printResult(det)
	},
}

var githubConnectCmd = &cobra.Command{
	Use:   "connect <oauth-code>",
	Short: "Finish linking a GitHub account with an OAuth code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		st, err := client.ConnectGitHub(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(st)
	},
}

var githubDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Unlink the GitHub account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		if err := client.DisconnectGitHub(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "GitHub disconnected")
		return nil
	},
}

func init() {
	githubCmd.AddCommand(githubStatusCmd, githubReposCmd, githubBranchesCmd, githubDetectCmd,
		githubConnectCmd, githubDisconnectCmd)
	rootCmd.AddCommand(githubCmd)
}
