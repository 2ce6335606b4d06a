package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/archi3d/archi3d/pkg/adapter"
	"github.com/archi3d/archi3d/pkg/atomicio"
	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/eventlog"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/metrics"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// DefaultBackoff is the inter-retry sleep schedule for transient adapter
// failures. Its length is also the retry budget.
var DefaultBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// claimLockTimeout bounds the per-job claim lock wait. A contended claim
// means another worker owns the job; waiting longer buys nothing.
const claimLockTimeout = 5 * time.Second

// heartbeatInterval is how often a running job refreshes its .inprogress
// marker mtime. The consolidator treats markers older than its staleness
// threshold as stale, so long adapter calls must keep the marker fresh.
const heartbeatInterval = 2 * time.Minute

// Options configures one worker invocation.
type Options struct {
	RunID string
	// JobFilter selects jobs by id: substring, `*` glob, or `re:` regexp.
	JobFilter string
	// OnlyStatus restricts selection; default is {enqueued}.
	OnlyStatus []string
	// Adapter overrides the per-row algorithm key when non-empty.
	Adapter string
	// MaxParallel bounds the in-process worker pool; default 1.
	MaxParallel int
	// FailFast stops claiming new jobs after the first failure.
	FailFast bool
	// DryRun routes every job through the dry-run adapter.
	DryRun bool
	// Backoff overrides DefaultBackoff; tests shorten it.
	Backoff []time.Duration
}

// Summary reports what one worker process did.
type Summary struct {
	Selected  int
	Completed int
	Failed    int
	Skipped   int
}

// Engine claims enqueued jobs, drives the per-job lifecycle state machine,
// and batch-upserts the results on exit.
type Engine struct {
	ws       *workspace.Workspace
	cfg      *config.Config
	registry *adapter.Registry
	opts     Options
	identity Identity

	mu      sync.Mutex
	results []types.Row

	failed atomic.Bool
}

// NewEngine creates a worker engine.
func NewEngine(ws *workspace.Workspace, cfg *config.Config, registry *adapter.Registry, opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if len(opts.OnlyStatus) == 0 {
		opts.OnlyStatus = []string{string(types.StatusEnqueued)}
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Engine{
		ws:       ws,
		cfg:      cfg,
		registry: registry,
		opts:     opts,
		identity: CaptureIdentity(cfg.EnvTag),
	}
}

// Run selects matching rows and processes them with bounded parallelism.
// Results are collected in memory and written in a single atomic upsert on
// exit: concurrent in-process upserts merging against each other is exactly
// the race this design removes. Cross-process safety is preserved because
// the final upsert is itself locked and atomic.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	logger := log.WithComponent("worker").With().
		Str("run_id", e.opts.RunID).
		Str("session", e.identity.Session).
		Logger()

	if e.opts.RunID == "" {
		return nil, fmt.Errorf("worker requires a run id")
	}
	if err := e.ws.EnsureRunTree(e.opts.RunID); err != nil {
		return nil, err
	}

	matcher, err := newJobMatcher(e.opts.JobFilter)
	if err != nil {
		return nil, err
	}
	statusSet := map[string]bool{}
	for _, s := range e.opts.OnlyStatus {
		statusSet[s] = true
	}

	_, rows, err := csvtable.Read(e.ws.GenerationsCSV())
	if err != nil {
		return nil, err
	}

	var selected []types.Row
	for _, row := range rows {
		if row[types.ColRunID] != e.opts.RunID {
			continue
		}
		if !statusSet[row[types.ColStatus]] {
			continue
		}
		if !matcher.match(row[types.ColJobID]) {
			continue
		}
		selected = append(selected, row)
	}

	summary := &Summary{Selected: len(selected)}
	logger.Info().
		Int("selected", len(selected)).
		Int("max_parallel", e.opts.MaxParallel).
		Bool("dry_run", e.opts.DryRun).
		Msg("worker starting")

	jobs := make(chan types.Row)
	var wg sync.WaitGroup
	var completed, failed, skipped atomic.Int64

	for i := 0; i < e.opts.MaxParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				switch e.processJob(ctx, row) {
				case jobCompleted:
					completed.Add(1)
				case jobFailed:
					failed.Add(1)
					if e.opts.FailFast {
						e.failed.Store(true)
					}
				case jobSkipped:
					skipped.Add(1)
				}
			}
		}()
	}

feed:
	for _, row := range selected {
		// fail_fast is cooperative: stop handing out new jobs, let
		// in-flight adapter calls run to completion.
		if e.failed.Load() {
			break
		}
		select {
		case jobs <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	summary.Completed = int(completed.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())

	if err := e.flushResults(); err != nil {
		return summary, err
	}

	event := map[string]any{
		"event":     "worker_exit",
		"run_id":    e.opts.RunID,
		"session":   e.identity.Session,
		"host":      e.identity.Host,
		"selected":  summary.Selected,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"dry_run":   e.opts.DryRun,
	}
	if err := eventlog.Append(e.ws.WorkerLog(), event); err != nil {
		return summary, err
	}

	logger.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("worker exiting")
	return summary, nil
}

type jobOutcome int

const (
	jobCompleted jobOutcome = iota
	jobFailed
	jobSkipped
)

// processJob drives one job through the lifecycle state machine:
// claim -> running -> completed/failed, with markers on disk at every
// transition and the row update deferred to the terminal batch upsert.
func (e *Engine) processJob(ctx context.Context, row types.Row) jobOutcome {
	runID := e.opts.RunID
	jobID := row[types.ColJobID]
	algo := row[types.ColAlgo]
	logger := log.WithComponent("worker").With().
		Str("run_id", runID).
		Str("job_id", jobID).
		Str("algo", algo).
		Logger()

	claimed, err := e.claim(runID, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("claim failed, skipping job")
		metrics.JobsSkipped.Inc()
		return jobSkipped
	}
	if !claimed {
		logger.Debug().Msg("job already claimed or terminal, skipping")
		metrics.JobsSkipped.Inc()
		return jobSkipped
	}

	// Heartbeat: keep the .inprogress marker fresh through long adapter calls.
	hbStop := make(chan struct{})
	go e.heartbeat(runID, jobID, hbStop)
	defer close(hbStop)

	start := time.Now()
	result, execErr := e.invokeAdapter(ctx, row, logger)
	end := time.Now()

	out := row.Clone()
	e.stampIdentity(out)
	out[types.ColGenerationStart] = types.FormatTime(start)
	out[types.ColGenerationEnd] = types.FormatTime(end)
	out[types.ColGenerationDurationS] = types.FormatFloat(end.Sub(start).Seconds())
	metrics.GenerationDuration.WithLabelValues(algo).Observe(end.Sub(start).Seconds())

	if execErr != nil {
		e.finishFailed(out, runID, jobID, execErr, logger)
		e.collect(out)
		return jobFailed
	}
	if err := e.finishCompleted(out, runID, jobID, algo, result, logger); err != nil {
		e.finishFailed(out, runID, jobID, err, logger)
		e.collect(out)
		return jobFailed
	}
	e.collect(out)
	return jobCompleted
}

// claim attempts to take ownership of the job. Inside the per-job lock it
// checks for terminal markers (resumability) and a live in-progress marker
// (another worker), then creates the .inprogress marker. This guarantees
// at-most-one active worker per job across processes.
func (e *Engine) claim(runID, jobID string) (bool, error) {
	unlock, err := atomicio.Lock(e.ws.StateLockPath(runID, jobID), claimLockTimeout)
	if err != nil {
		return false, err
	}
	defer unlock()

	for _, marker := range []string{
		e.ws.CompletedMarker(runID, jobID),
		e.ws.FailedMarker(runID, jobID),
		e.ws.InProgressMarker(runID, jobID),
	} {
		if _, err := os.Stat(marker); err == nil {
			return false, nil
		}
	}

	if err := atomicio.Touch(e.ws.InProgressMarker(runID, jobID)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) heartbeat(runID, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = atomicio.Touch(e.ws.InProgressMarker(runID, jobID))
		case <-stop:
			return
		}
	}
}

// invokeAdapter resolves the adapter and calls it, retrying transient
// failures on the backoff schedule. Exhausted retries become permanent.
func (e *Engine) invokeAdapter(ctx context.Context, row types.Row, logger zerolog.Logger) (*adapter.Result, error) {
	runID := e.opts.RunID
	jobID := row[types.ColJobID]
	algo := row[types.ColAlgo]

	key := algo
	if e.opts.Adapter != "" {
		key = e.opts.Adapter
	}

	var ad adapter.Adapter
	if e.opts.DryRun {
		ad = adapter.DryRun{}
	} else {
		var err error
		ad, err = e.registry.Get(key)
		if err != nil {
			return nil, adapter.Permanentf("%v", err)
		}
	}

	outDir := e.ws.OutputsDir(runID, jobID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, adapter.Permanentf("failed to create output directory: %v", err)
	}

	var used []string
	for i := 1; i <= types.MaxImages; i++ {
		if rel := row[types.UsedImageColumn(i)]; rel != "" {
			used = append(used, e.ws.Abs(rel))
		}
	}

	req := &adapter.Request{
		JobID:      jobID,
		ProductID:  row[types.ColProductID],
		Variant:    row[types.ColVariant],
		Algo:       algo,
		UsedImages: used,
		OutDir:     outDir,
		Workspace:  e.ws.Root(),
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := ad.Execute(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !adapter.IsTransient(err) || attempt >= len(e.opts.Backoff) {
			return nil, lastErr
		}

		delay := e.opts.Backoff[attempt]
		logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("transient adapter failure, retrying")
		metrics.AdapterRetries.WithLabelValues(algo).Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, adapter.Transientf("cancelled during backoff: %v", ctx.Err())
		}
	}
}

// finishCompleted materializes the success transition: verify the output,
// write the .completed marker, clear .inprogress, and fill the execution
// columns on the row.
func (e *Engine) finishCompleted(out types.Row, runID, jobID, algo string, result *adapter.Result, logger zerolog.Logger) error {
	outDir := e.ws.OutputsDir(runID, jobID)
	objAbs := filepath.Join(outDir, result.ObjectPath)
	if st, err := os.Stat(objAbs); err != nil || st.Size() == 0 {
		return adapter.Permanentf("adapter reported success but %s is missing or empty", result.ObjectPath)
	}
	objRel, err := e.ws.Rel(objAbs)
	if err != nil {
		return adapter.Permanentf("%v", err)
	}

	out[types.ColStatus] = string(types.StatusCompleted)
	out[types.ColGenObjectPath] = objRel
	out[types.ColAlgoVersion] = result.AlgoVersion
	for i, p := range result.Previews {
		if i >= types.MaxPreviews {
			break
		}
		rel, err := e.ws.Rel(filepath.Join(outDir, p))
		if err != nil {
			continue
		}
		out[types.PreviewColumn(i+1)] = rel
	}
	e.price(out, algo, result)
	out[types.ColErrorMsg] = ""

	if err := atomicio.Touch(e.ws.CompletedMarker(runID, jobID)); err != nil {
		return err
	}
	_ = os.Remove(e.ws.InProgressMarker(runID, jobID))

	metrics.JobsCompleted.Inc()
	logger.Info().Str("object", objRel).Msg("job completed")
	return nil
}

// finishFailed materializes the failure transition: full trace to
// .error.txt, .failed marker, truncated error_msg on the row.
func (e *Engine) finishFailed(out types.Row, runID, jobID string, execErr error, logger zerolog.Logger) {
	msg := execErr.Error()
	if err := atomicio.WriteFile(e.ws.ErrorFile(runID, jobID), []byte(msg+"\n")); err != nil {
		logger.Error().Err(err).Msg("failed to write error sidecar")
	}
	if err := atomicio.Touch(e.ws.FailedMarker(runID, jobID)); err != nil {
		logger.Error().Err(err).Msg("failed to write failed marker")
	}
	_ = os.Remove(e.ws.InProgressMarker(runID, jobID))

	if len(msg) > types.MaxErrorMsgLen {
		msg = msg[:types.MaxErrorMsgLen]
	}
	out[types.ColStatus] = string(types.StatusFailed)
	out[types.ColErrorMsg] = msg

	metrics.JobsFailed.Inc()
	logger.Error().Err(execErr).Msg("job failed")
}

// price resolves the unit price: adapter result first, then the configured
// per-algorithm table, else unknown. estimated_cost_usd is the unit price.
func (e *Engine) price(out types.Row, algo string, result *adapter.Result) {
	switch {
	case result.UnitPriceUSD != nil:
		out[types.ColUnitPriceUSD] = types.FormatFloat(*result.UnitPriceUSD)
		out[types.ColEstimatedCostUSD] = out[types.ColUnitPriceUSD]
		out[types.ColCurrency] = result.Currency
		out[types.ColPriceSource] = "adapter"
	default:
		if p, ok := e.cfg.Pricing[algo]; ok {
			out[types.ColUnitPriceUSD] = types.FormatFloat(p.UnitPriceUSD)
			out[types.ColEstimatedCostUSD] = out[types.ColUnitPriceUSD]
			currency := p.Currency
			if currency == "" {
				currency = "USD"
			}
			out[types.ColCurrency] = currency
			out[types.ColPriceSource] = "config"
		} else {
			out[types.ColPriceSource] = "unknown"
		}
	}
}

func (e *Engine) stampIdentity(out types.Row) {
	out[types.ColWorkerHost] = e.identity.Host
	out[types.ColWorkerUser] = e.identity.User
	out[types.ColWorkerGPU] = e.identity.GPU
	out[types.ColWorkerEnv] = e.identity.Env
	out[types.ColWorkerCommit] = e.identity.Commit
}

func (e *Engine) collect(row types.Row) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, row)
}

// flushResults performs the single terminal batch upsert for everything
// this process produced.
func (e *Engine) flushResults() error {
	e.mu.Lock()
	rows := e.results
	e.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	res, err := csvtable.Upsert(e.ws.GenerationsCSV(), rows, types.GenerationKeyColumns, csvtable.Options{
		Columns:         types.GenerationColumns,
		PreserveColumns: []string{types.ColCreatedAt},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert worker results: %w", err)
	}
	metrics.RowsUpserted.WithLabelValues("generations", "inserted").Add(float64(res.Inserted))
	metrics.RowsUpserted.WithLabelValues("generations", "updated").Add(float64(res.Updated))
	return nil
}
