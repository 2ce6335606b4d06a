package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate run reports",
}

var reportBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Render an HTML summary for a run",
	RunE:  runReportBuild,
}

func init() {
	reportBuildCmd.Flags().String("run-id", "", "Run identifier (required)")
	_ = reportBuildCmd.MarkFlagRequired("run-id")

	reportCmd.AddCommand(reportBuildCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportBuild(cmd *cobra.Command, args []string) error {
	_, ws, err := loadContext()
	if err != nil {
		return err
	}
	runID, _ := cmd.Flags().GetString("run-id")

	path, err := report.Build(ws, runID)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
