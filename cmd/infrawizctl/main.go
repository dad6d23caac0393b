package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
)

var (
	apiURL       string
	agentURL     string
	tokenFile    string
	output       string
	pollInterval time.Duration
	logLevel     string
	configPath   string

	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "infrawizctl",
	Short: "infrawiz CLI - describe, price, provision and deploy cloud infrastructure",
	Long: `infrawizctl drives the infrawiz backend from the command line: it validates
project descriptions, walks the analyze/usage/cost/terraform steps, starts
provisioning and deploy jobs and watches them until they finish.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadSettings(cmd); err != nil {
			return err
		}
		l, err := observability.NewCLILogger(logLevel)
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	log.Sync()
	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", errorText(err))
		}
		os.Exit(1)
	}
}

// errorText prefers the user-facing message of coded errors.
func errorText(err error) string {
	if core.CodeOf(err) != "" {
		return core.UserMessage(err)
	}
	return err.Error()
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&apiURL, "api-url", "a", "", "backend API URL (env INFRAWIZ_API_BASE_URL)")
	f.StringVar(&agentURL, "agent-url", "", "infrawiz-agent URL (env INFRAWIZ_AGENT_URL)")
	f.StringVar(&tokenFile, "token-file", "", "file holding the bearer token (env INFRAWIZ_TOKEN_FILE)")
	f.StringVarP(&output, "output", "o", "", "output format (table, json, yaml)")
	f.DurationVar(&pollInterval, "poll-interval", 0, "job status poll interval")
	f.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/infrawiz/config.yaml)")
}
