package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/workspace"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagWorkspace string
	flagLogLevel  string
	flagLogJSON   bool
	flagLogFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "archi3d",
	Short: "Archi3D - batch orchestration for 2D-to-3D generation",
	Long: `Archi3D orchestrates batches of 2D-to-3D generation jobs over a
file-system workspace. CSV tables are the single source of truth;
every command is idempotent and safe to re-run after a crash.

Typical flow:
  archi3d catalog build
  archi3d batch create --algo tripo
  archi3d run worker --run-id <run>
  archi3d consolidate --run-id <run>
  archi3d report build --run-id <run>`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Archi3D version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "Workspace root directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit JSON logs instead of console output")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Also write logs to this rotating file")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(flagLogLevel),
			JSONOutput: flagLogJSON,
			File:       flagLogFile,
		})
	}
}

// loadContext resolves the configuration and opens the workspace. Every
// subcommand that touches the SSOT goes through here.
func loadContext() (*config.Config, *workspace.Workspace, error) {
	cfg, err := config.Load(flagWorkspace)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, nil, err
	}
	if err := ws.EnsureMutableTree(); err != nil {
		return nil, nil, err
	}
	return cfg, ws, nil
}
