package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/archi3d/archi3d/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Long: `Print the configuration after merging all sources: project config,
user config, workspace secrets and environment. API keys are redacted.`,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagWorkspace)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(redact(cfg))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// redact returns a copy of the configuration safe to print: secrets never
// reach stdout.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	out.Backends = make(map[string]config.Backend, len(cfg.Backends))
	for name, b := range cfg.Backends {
		if b.APIKey != "" {
			b.APIKey = "********"
		}
		out.Backends[name] = b
	}
	return &out
}
