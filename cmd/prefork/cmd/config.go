package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/prefork/internal/config"
	"github.com/psantana5/prefork/internal/cpus"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration inspection",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after defaults, config file, PREFORK_* environment
variables and flags are applied, together with the detected parallelism.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "output format: yaml or json")
}

// effectiveConfig is the output of config show
type effectiveConfig struct {
	ConfigFile     string         `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Config         *config.Config `json:"config" yaml:"config"`
	Host           cpus.Info      `json:"host" yaml:"host"`
	DetectedCPUs   int            `json:"detected_cpus" yaml:"detected_cpus"`
	EffectiveCount int            `json:"effective_workers" yaml:"effective_workers"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host := cpus.Probe(context.Background())
	out := effectiveConfig{
		ConfigFile:     cfgFile,
		Config:         cfg,
		Host:           host,
		DetectedCPUs:   host.Parallelism(),
		EffectiveCount: cfg.Workers,
	}
	if out.EffectiveCount == 0 {
		out.EffectiveCount = out.DetectedCPUs
	}

	switch configOutput {
	case "json":
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
	default:
		return fmt.Errorf("unknown output format %q (expected yaml or json)", configOutput)
	}
	return nil
}
