package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"replay-guard-agent/internal/agent/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print agent version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringP("output", "o", "json", "Output format (json/yaml)")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	info := version.Get(cfg)

	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(info)
	default:
		return fmt.Errorf("unsupported output format %q", output)
	}
}
