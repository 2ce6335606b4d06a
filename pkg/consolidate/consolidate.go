package consolidate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/eventlog"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/metrics"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// DefaultStaleAfter is the heartbeat age past which an .inprogress marker
// counts as stale. Stale jobs are counted, never auto-cleared: a worker on
// another host may still be alive behind a slow cloud sync.
const DefaultStaleAfter = 10 * time.Minute

// Options configures one consolidation pass.
type Options struct {
	RunID string
	// FixStatus downgrades completed rows whose generated object is missing.
	FixStatus bool
	// Strict promotes every detected inconsistency to a fatal error.
	Strict bool
	// DryRun computes and logs the delta without writing.
	DryRun bool
	// StaleAfter overrides DefaultStaleAfter; tests shorten it.
	StaleAfter time.Duration
}

// Summary reports one consolidation pass.
type Summary struct {
	Considered              int
	Inserted                int
	Updated                 int
	Unchanged               int
	ConflictsResolved       int
	MarkerMismatchesFixed   int
	DowngradedMissingOutput int
	StaleHeartbeats         int
	HistogramBefore         map[string]int
	HistogramAfter          map[string]int
	DryRun                  bool
}

// Consolidator reconciles the generations SSOT with on-disk evidence:
// state markers and output artifacts are authoritative, CSV rows follow.
type Consolidator struct {
	ws *workspace.Workspace
}

// New creates a consolidator for the given workspace.
func New(ws *workspace.Workspace) *Consolidator {
	return &Consolidator{ws: ws}
}

// Run reconciles one run. The write is a replace-run upsert: all rows of
// the run are swapped for the reconciled set in a single locked operation,
// which is also what collapses duplicate keys. A second pass over
// unchanged inputs yields zero updates.
func (c *Consolidator) Run(opts Options) (*Summary, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("consolidate requires a run id")
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	logger := log.WithComponent("consolidate").With().Str("run_id", opts.RunID).Logger()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ConsolidationDuration)
		metrics.ConsolidationCycles.Inc()
	}()

	_, rows, err := csvtable.Read(c.ws.GenerationsCSV())
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		HistogramBefore: map[string]int{},
		HistogramAfter:  map[string]int{},
		DryRun:          opts.DryRun,
	}

	// Group this run's rows by job id, preserving first-seen order.
	var order []string
	grouped := map[string][]types.Row{}
	for _, row := range rows {
		if row[types.ColRunID] != opts.RunID {
			continue
		}
		summary.Considered++
		summary.HistogramBefore[statusOf(row)]++
		jobID := row[types.ColJobID]
		if _, seen := grouped[jobID]; !seen {
			order = append(order, jobID)
		}
		grouped[jobID] = append(grouped[jobID], row)
	}

	reconciled := make([]types.Row, 0, len(order))
	for _, jobID := range order {
		dups := grouped[jobID]
		row := mergeDuplicates(dups)
		summary.ConflictsResolved += len(dups) - 1

		c.reconcileRow(row, opts, summary)
		summary.HistogramAfter[statusOf(row)]++
		reconciled = append(reconciled, row)
	}
	metrics.ConflictsResolved.Add(float64(summary.ConflictsResolved))

	if opts.Strict {
		if n := summary.ConflictsResolved + summary.MarkerMismatchesFixed + summary.DowngradedMissingOutput; n > 0 {
			return summary, fmt.Errorf("strict mode: %d inconsistencies detected for run %s", n, opts.RunID)
		}
	}

	if !opts.DryRun {
		res, err := csvtable.Upsert(c.ws.GenerationsCSV(), reconciled, types.GenerationKeyColumns, csvtable.Options{
			Columns:       types.GenerationColumns,
			ReplaceColumn: types.ColRunID,
			ReplaceValue:  opts.RunID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert reconciled rows: %w", err)
		}
		summary.Inserted = res.Inserted
		summary.Updated = res.Updated
		summary.Unchanged = res.Unchanged
	}

	event := map[string]any{
		"event":                     "consolidate",
		"run_id":                    opts.RunID,
		"considered":                summary.Considered,
		"upsert_inserted":           summary.Inserted,
		"upsert_updated":            summary.Updated,
		"unchanged":                 summary.Unchanged,
		"conflicts_resolved":        summary.ConflictsResolved,
		"marker_mismatches_fixed":   summary.MarkerMismatchesFixed,
		"downgraded_missing_output": summary.DowngradedMissingOutput,
		"stale_heartbeats":          summary.StaleHeartbeats,
		"status_histogram_before":   summary.HistogramBefore,
		"status_histogram_after":    summary.HistogramAfter,
		"dry_run":                   opts.DryRun,
	}
	if err := eventlog.Append(c.ws.ConsolidateLog(), event); err != nil {
		return nil, err
	}

	logger.Info().
		Int("considered", summary.Considered).
		Int("updated", summary.Updated).
		Int("conflicts_resolved", summary.ConflictsResolved).
		Int("stale_heartbeats", summary.StaleHeartbeats).
		Bool("dry_run", opts.DryRun).
		Msg("consolidation complete")
	return summary, nil
}

func statusOf(row types.Row) string {
	if row[types.ColStatus] == "" {
		return string(types.StatusEnqueued)
	}
	return row[types.ColStatus]
}

// mergeDuplicates collapses rows sharing (run_id, job_id): the row with the
// highest status precedence wins, and every cell the winner left empty is
// back-filled from the losers in order.
func mergeDuplicates(dups []types.Row) types.Row {
	if len(dups) == 1 {
		return dups[0].Clone()
	}

	winner := 0
	for i := 1; i < len(dups); i++ {
		if types.StatusPrecedence(types.Status(dups[i][types.ColStatus])) >
			types.StatusPrecedence(types.Status(dups[winner][types.ColStatus])) {
			winner = i
		}
	}

	out := dups[winner].Clone()
	for i, loser := range dups {
		if i == winner {
			continue
		}
		for col, v := range loser {
			if out[col] == "" && v != "" {
				out[col] = v
			}
		}
	}
	return out
}

// reconcileRow applies the status truth table and fills missing metadata
// from on-disk evidence. First match wins:
//
//  1. .completed marker and generated object on disk -> completed
//  2. .failed marker -> failed
//  3. fresh .inprogress marker -> running
//  4. CSV completed but object missing, fix enabled -> failed
//  5. otherwise keep the CSV status (enqueued for fresh rows)
func (c *Consolidator) reconcileRow(row types.Row, opts Options, summary *Summary) {
	runID := opts.RunID
	jobID := row[types.ColJobID]
	before := statusOf(row)

	completedAt, hasCompleted := markerTime(c.ws.CompletedMarker(runID, jobID))
	failedAt, hasFailed := markerTime(c.ws.FailedMarker(runID, jobID))
	inprogressAt, hasInprogress := markerTime(c.ws.InProgressMarker(runID, jobID))

	objAbs := filepath.Join(c.ws.OutputsDir(runID, jobID), "generated.glb")
	_, objErr := os.Stat(objAbs)
	objExists := objErr == nil

	if hasInprogress && time.Since(inprogressAt) >= opts.StaleAfter {
		// Stale but deliberately kept: counted, never auto-cleared.
		summary.StaleHeartbeats++
	}

	switch {
	case hasCompleted && objExists:
		row[types.ColStatus] = string(types.StatusCompleted)
		if row[types.ColGenerationEnd] == "" {
			row[types.ColGenerationEnd] = types.FormatTime(completedAt)
		}
	case hasFailed:
		row[types.ColStatus] = string(types.StatusFailed)
		if row[types.ColGenerationEnd] == "" {
			row[types.ColGenerationEnd] = types.FormatTime(failedAt)
		}
		c.fillErrorMsg(row, runID, jobID)
	case hasInprogress && time.Since(inprogressAt) < opts.StaleAfter:
		row[types.ColStatus] = string(types.StatusRunning)
		if row[types.ColGenerationStart] == "" {
			row[types.ColGenerationStart] = types.FormatTime(inprogressAt)
		}
	case before == string(types.StatusCompleted) && !objExists && opts.FixStatus:
		row[types.ColStatus] = string(types.StatusFailed)
		if row[types.ColErrorMsg] == "" {
			row[types.ColErrorMsg] = "output missing"
		}
		summary.DowngradedMissingOutput++
	default:
		row[types.ColStatus] = before
	}

	if after := statusOf(row); after != before && !(before == string(types.StatusCompleted) && !objExists && opts.FixStatus) {
		summary.MarkerMismatchesFixed++
	}

	// Metadata fill from artifacts.
	if row[types.ColStatus] == string(types.StatusCompleted) {
		if row[types.ColGenObjectPath] == "" && objExists {
			if rel, err := c.ws.Rel(objAbs); err == nil {
				row[types.ColGenObjectPath] = rel
			}
		}
		for i := 1; i <= types.MaxPreviews; i++ {
			col := types.PreviewColumn(i)
			if row[col] != "" {
				continue
			}
			p := filepath.Join(c.ws.OutputsDir(runID, jobID), fmt.Sprintf("preview_%d.png", i))
			if _, err := os.Stat(p); err == nil {
				if rel, err := c.ws.Rel(p); err == nil {
					row[col] = rel
				}
			}
		}
	}

	// Recompute duration when both endpoints are known.
	if row[types.ColGenerationDurationS] == "" {
		start, err1 := types.ParseTime(row[types.ColGenerationStart])
		end, err2 := types.ParseTime(row[types.ColGenerationEnd])
		if err1 == nil && err2 == nil && !start.IsZero() && !end.IsZero() && !end.Before(start) {
			row[types.ColGenerationDurationS] = types.FormatFloat(end.Sub(start).Seconds())
		}
	}
}

// fillErrorMsg reads the .error.txt sidecar into an empty error_msg cell,
// truncated to the column bound.
func (c *Consolidator) fillErrorMsg(row types.Row, runID, jobID string) {
	if row[types.ColErrorMsg] != "" {
		return
	}
	data, err := os.ReadFile(c.ws.ErrorFile(runID, jobID))
	if err != nil {
		return
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > types.MaxErrorMsgLen {
		msg = msg[:types.MaxErrorMsgLen]
	}
	row[types.ColErrorMsg] = msg
}

// markerTime stats a marker and returns its mtime.
func markerTime(path string) (time.Time, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}
