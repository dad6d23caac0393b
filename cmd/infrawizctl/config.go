package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/poller"
)

// fileConfig is the optional YAML config file.
type fileConfig struct {
	APIURL       string `yaml:"api_url"`
	AgentURL     string `yaml:"agent_url"`
	TokenFile    string `yaml:"token_file"`
	Output       string `yaml:"output"`
	PollInterval string `yaml:"poll_interval"`
	LogLevel     string `yaml:"log_level"`
}

type envConfig struct {
	AgentURL     string        `envconfig:"INFRAWIZ_AGENT_URL"`
	Output       string        `envconfig:"INFRAWIZ_OUTPUT"`
	PollInterval time.Duration `envconfig:"INFRAWIZ_POLL_INTERVAL"`
	LogLevel     string        `envconfig:"INFRAWIZ_LOG_LEVEL"`
}

var clientCfg apiclient.Config

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "infrawiz", "config.yaml")
}

func readFileConfig(path string, explicit bool) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// loadSettings resolves every global setting. Flags win over the
// environment, which wins over the config file.
func loadSettings(cmd *cobra.Command) error {
	path, explicit := configPath, configPath != ""
	if !explicit {
		path = defaultConfigPath()
	}
	fc, err := readFileConfig(path, explicit)
	if err != nil {
		return err
	}
	if err := envconfig.Process("", &clientCfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, set := os.LookupEnv("INFRAWIZ_API_BASE_URL"); !set && fc.APIURL != "" {
		clientCfg.BaseURL = fc.APIURL
	}
	var env envConfig
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		clientCfg.BaseURL = apiURL
	}
	apiURL = clientCfg.BaseURL
	if !flags.Changed("token-file") {
		tokenFile = firstNonEmpty(clientCfg.TokenFile, fc.TokenFile, apiclient.DefaultTokenFile())
	}
	clientCfg.TokenFile = tokenFile
	if !flags.Changed("agent-url") {
		agentURL = firstNonEmpty(env.AgentURL, fc.AgentURL, "http://localhost:8080")
	}
	if !flags.Changed("output") {
		output = firstNonEmpty(env.Output, fc.Output, "table")
	}
	if !flags.Changed("log-level") {
		logLevel = firstNonEmpty(env.LogLevel, fc.LogLevel, "warn")
	}
	if !flags.Changed("poll-interval") {
		pollInterval = env.PollInterval
		if pollInterval == 0 && fc.PollInterval != "" {
			d, err := time.ParseDuration(fc.PollInterval)
			if err != nil {
				return fmt.Errorf("config poll_interval: %w", err)
			}
			pollInterval = d
		}
		if pollInterval == 0 {
			pollInterval = poller.DefaultInterval
		}
	}
	switch output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// newClient builds the backend client. Callers close the returned closer.
func newClient() (*apiclient.Client, func(), error) {
	c, closer, err := apiclient.NewFromConfig(clientCfg, log.Named("api"))
	if err != nil {
		return nil, nil, err
	}
	return c, func() { closer.Close() }, nil
}
