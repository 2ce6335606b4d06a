package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Reconcile a run's table rows with on-disk evidence",
	Long: `Compare every generation row of a run against its state markers and
output artifacts, resolve duplicates, fill missing metadata, and
rewrite the run's rows in one atomic update. Safe to run at any time,
including while workers are still active.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().String("run-id", "", "Run identifier (required)")
	consolidateCmd.Flags().Bool("fix-status", false, "Downgrade completed rows whose output is missing")
	consolidateCmd.Flags().Bool("strict", false, "Fail on any detected inconsistency")
	consolidateCmd.Flags().Bool("dry-run", false, "Report the delta without writing")
	_ = consolidateCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	_, ws, err := loadContext()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	fixStatus, _ := cmd.Flags().GetBool("fix-status")
	strict, _ := cmd.Flags().GetBool("strict")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	summary, err := consolidate.New(ws).Run(consolidate.Options{
		RunID:     runID,
		FixStatus: fixStatus,
		Strict:    strict,
		DryRun:    dryRun,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d rows considered\n", runID, summary.Considered)
	printHistogram("  before:", summary.HistogramBefore)
	printHistogram("  after: ", summary.HistogramAfter)
	fmt.Printf("  conflicts resolved: %d, marker fixes: %d, downgraded: %d, stale heartbeats: %d\n",
		summary.ConflictsResolved, summary.MarkerMismatchesFixed,
		summary.DowngradedMissingOutput, summary.StaleHeartbeats)
	if dryRun {
		fmt.Println("Dry run: nothing written")
	} else {
		fmt.Printf("  table: %d updated, %d unchanged\n", summary.Updated, summary.Unchanged)
	}
	return nil
}

func printHistogram(prefix string, hist map[string]int) {
	statuses := make([]string, 0, len(hist))
	for s := range hist {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Print(prefix)
	for _, s := range statuses {
		fmt.Printf(" %s=%d", s, hist[s])
	}
	fmt.Println()
}
