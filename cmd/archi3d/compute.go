package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/metriceval"
	"github.com/archi3d/archi3d/pkg/workspace"
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute metrics over completed jobs",
}

var computeFScoreCmd = &cobra.Command{
	Use:   "fscore",
	Short: "Compute geometry metrics against ground-truth objects",
	RunE:  runComputeFScore,
}

var computeVFScoreCmd = &cobra.Command{
	Use:   "vfscore",
	Short: "Compute visual-fidelity metrics against source images",
	RunE:  runComputeVFScore,
}

func init() {
	for _, c := range []*cobra.Command{computeFScoreCmd, computeVFScoreCmd} {
		c.Flags().String("run-id", "", "Run identifier (required)")
		c.Flags().Bool("force", false, "Recompute rows that already carry a result")
		_ = c.MarkFlagRequired("run-id")
		computeCmd.AddCommand(c)
	}
	rootCmd.AddCommand(computeCmd)
}

func runComputeFScore(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadContext()
	if err != nil {
		return err
	}
	return runEvaluator(cmd, metriceval.NewFScore(cfg), ws)
}

func runComputeVFScore(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadContext()
	if err != nil {
		return err
	}
	return runEvaluator(cmd, metriceval.NewVFScore(cfg), ws)
}

func runEvaluator(cmd *cobra.Command, ev metriceval.Evaluator, ws *workspace.Workspace) error {
	runID, _ := cmd.Flags().GetString("run-id")
	force, _ := cmd.Flags().GetBool("force")

	summary, err := metriceval.Run(ws, ev, metriceval.Options{RunID: runID, Force: force})
	if err != nil {
		return err
	}
	fmt.Printf("Run %s (%s): %d candidates, %d computed, %d failed, %d skipped\n",
		runID, ev.Name(), summary.Candidates, summary.Computed, summary.Failed, summary.Skipped)
	return nil
}
