package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/adapter"
	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/metrics"
	"github.com/archi3d/archi3d/pkg/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute generation jobs",
}

var runWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and execute enqueued jobs for a run",
	Long: `Start one worker process. The worker claims enqueued jobs of the run
with per-job file locks, drives each through its generation adapter,
and writes all results back in a single atomic table update on exit.
Multiple workers may run concurrently against the same workspace,
on the same or different machines.`,
	RunE: runWorker,
}

func init() {
	runWorkerCmd.Flags().String("run-id", "", "Run identifier (required)")
	runWorkerCmd.Flags().String("jobs", "", "Job filter: substring, glob with *, or re:<regexp>")
	runWorkerCmd.Flags().StringSlice("only-status", nil, "Statuses to select (default: enqueued)")
	runWorkerCmd.Flags().String("adapter", "", "Override the per-row algorithm key")
	runWorkerCmd.Flags().Int("max-parallel", 1, "Jobs processed concurrently by this worker")
	runWorkerCmd.Flags().Bool("fail-fast", false, "Stop claiming new jobs after the first failure")
	runWorkerCmd.Flags().Bool("dry-run", false, "Use the dry-run adapter, writing placeholder outputs")
	runWorkerCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	_ = runWorkerCmd.MarkFlagRequired("run-id")

	runCmd.AddCommand(runWorkerCmd)
	rootCmd.AddCommand(runCmd)
}

// buildRegistry wires one HTTP adapter per configured backend plus the
// dry-run adapter.
func buildRegistry(cfg *config.Config) *adapter.Registry {
	registry := adapter.NewRegistry()
	registry.Register("dry-run", adapter.DryRun{})
	for algo, backend := range cfg.Backends {
		registry.Register(algo, adapter.NewHTTP(adapter.HTTPConfig{
			BaseURL:      backend.BaseURL,
			APIKey:       backend.APIKey,
			Version:      backend.Version,
			PollInterval: time.Duration(backend.PollIntervalS) * time.Second,
		}))
	}
	return registry
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadContext()
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	jobs, _ := cmd.Flags().GetString("jobs")
	onlyStatus, _ := cmd.Flags().GetStringSlice("only-status")
	adapterKey, _ := cmd.Flags().GetString("adapter")
	maxParallel, _ := cmd.Flags().GetInt("max-parallel")
	failFast, _ := cmd.Flags().GetBool("fail-fast")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if metricsAddr != "" {
		errCh := metrics.Serve(metricsAddr)
		go func() {
			if err := <-errCh; err != nil {
				log.Errorf("metrics server failed", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := worker.NewEngine(ws, cfg, buildRegistry(cfg), worker.Options{
		RunID:       runID,
		JobFilter:   jobs,
		OnlyStatus:  onlyStatus,
		Adapter:     adapterKey,
		MaxParallel: maxParallel,
		FailFast:    failFast,
		DryRun:      dryRun,
	})

	summary, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// Failed jobs are recorded in the table, not a process failure.
	fmt.Printf("Run %s: %d selected, %d completed, %d failed, %d skipped\n",
		runID, summary.Selected, summary.Completed, summary.Failed, summary.Skipped)
	return nil
}
