package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"replay-guard-agent/internal/agent"
	"replay-guard-agent/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "replay-guard-agent",
	Short: "Performance guard for session recording",
	Long: `Runs the replay guard agent. Recording hosts connect over websocket,
report performance entries, and are told to stop recording when the page
degrades.`,
	SilenceUsage: true,
	RunE:         runAgent,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml); REPLAY_GUARD_* env vars override it")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides REPLAY_GUARD_LOG_LEVEL)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Lookup("log-level") != nil {
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.LogLevel = strings.ToLower(level)
			if err := cfg.Validate(); err != nil {
				return config.Config{}, err
			}
		}
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		return err
	}

	if err := a.Run(cmd.Context()); err != nil {
		logger.Error("agent runtime failed", "error", err)
		return err
	}
	return nil
}
