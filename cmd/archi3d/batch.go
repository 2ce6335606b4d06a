package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/planner"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage generation batches",
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Plan a batch of generation jobs",
	Long: `Select items from the catalog, compute deterministic job identities,
and enqueue one generation row per (item, algorithm) pair. Re-running
the same plan is a no-op.

The pseudo-algorithm "ecotest" expands to the algorithm list under the
"ecotest_algos" configuration key.`,
	RunE: runBatchCreate,
}

func init() {
	batchCreateCmd.Flags().String("run-id", "", "Run identifier (default: UTC timestamp slug)")
	batchCreateCmd.Flags().StringSlice("algo", nil, "Algorithm key to enqueue; repeatable (required)")
	batchCreateCmd.Flags().String("policy", planner.PolicyUseUpTo6, "Image selection policy")
	batchCreateCmd.Flags().String("include", "", "Keep only items matching this substring")
	batchCreateCmd.Flags().String("exclude", "", "Drop items matching this substring")
	batchCreateCmd.Flags().Bool("with-gt-only", false, "Only items with a ground-truth object")
	batchCreateCmd.Flags().Int("limit", 0, "Cap the number of items planned")
	batchCreateCmd.Flags().Bool("dry-run", false, "Compute the plan without writing")
	_ = batchCreateCmd.MarkFlagRequired("algo")

	batchCmd.AddCommand(batchCreateCmd)
	rootCmd.AddCommand(batchCmd)
}

// expandAlgos substitutes the "ecotest" pseudo-algorithm for the configured
// list before the planner ever sees it, preserving order and dropping
// duplicates.
func expandAlgos(cfg *config.Config, algos []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, algo := range algos {
		expansion := []string{algo}
		if algo == "ecotest" {
			if len(cfg.EcotestAlgos) == 0 {
				return nil, fmt.Errorf("algorithm \"ecotest\" requires the ecotest_algos configuration key")
			}
			expansion = cfg.EcotestAlgos
		}
		for _, a := range expansion {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func runBatchCreate(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadContext()
	if err != nil {
		return err
	}

	algos, _ := cmd.Flags().GetStringSlice("algo")
	algos, err = expandAlgos(cfg, algos)
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	policy, _ := cmd.Flags().GetString("policy")
	include, _ := cmd.Flags().GetString("include")
	exclude, _ := cmd.Flags().GetString("exclude")
	withGTOnly, _ := cmd.Flags().GetBool("with-gt-only")
	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	summary, err := planner.New(ws).Plan(planner.Options{
		RunID:      runID,
		Algos:      algos,
		Policy:     policy,
		Include:    include,
		Exclude:    exclude,
		WithGTOnly: withGTOnly,
		Limit:      limit,
		DryRun:     dryRun,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d candidates, %d enqueued, %d skipped\n",
		summary.RunID, summary.Candidates, summary.Enqueued, summary.Skipped)
	if len(summary.SkipReasons) > 0 {
		reasons := make([]string, 0, len(summary.SkipReasons))
		for r := range summary.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Printf("  skipped %s: %d\n", r, summary.SkipReasons[r])
		}
	}
	if dryRun {
		fmt.Println("Dry run: nothing written")
	} else {
		fmt.Printf("Table: %d inserted, %d updated, %d unchanged\n",
			summary.Inserted, summary.Updated, summary.Unchanged)
	}
	return nil
}
