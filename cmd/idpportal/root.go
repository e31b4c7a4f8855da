package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/logging"
)

const defaultConfigPath = "config.yaml"

var (
	configPath string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "idpportal",
	Short: "Internal developer platform assistant",
	Long: `idpportal answers platform requests by delegating them to backend agents
(Kubernetes, Kafka, ArgoCD, Flux, GitHub, Jira, PagerDuty, Slack, Vault,
Rancher, Backstage and the policy service) under a supervising model.

Run "idpportal serve" for the HTTP API or "idpportal ask" for a single request.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file. A missing default file falls back to
// the built-in defaults; an explicitly named one must exist.
func loadConfig(explicit bool) (*config.Config, error) {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return nil, err
	}

	var cfg *config.Config
	_, statErr := os.Stat(configPath)
	switch {
	case errors.Is(statErr, os.ErrNotExist) && !explicit:
		cfg = config.Default()
	default:
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the logger every command needs.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
