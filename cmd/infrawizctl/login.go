package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
)

var loginSkipCheck bool

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store the API bearer token",
	Long: `Store the API bearer token in the token file. The token is read from the
argument or, when omitted, from the first line of stdin. Running commands
pick up a changed token file without restarting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return core.NewAppError(core.ErrInvalidInput, "empty token")
		}
		if err := apiclient.SaveToken(tokenFile, token); err != nil {
			return err
		}
		log.Debug("token saved", zap.String("path", tokenFile))
		if !loginSkipCheck {
			client, done, err := newClient()
			if err != nil {
				return err
			}
			defer done()
			if _, err := client.ListWorkspaces(cmd.Context()); err != nil {
				return err
			}
		}
		fmt.Fprintf(stdout, "Token saved to %s\n", tokenFile)
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginSkipCheck, "skip-check", false, "do not verify the token against the API")
	rootCmd.AddCommand(loginCmd)
}
