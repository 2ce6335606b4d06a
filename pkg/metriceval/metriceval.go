// Package metriceval annotates completed generation rows with metric
// columns. Each evaluator owns a fixed column block and writes nothing
// else: the upsert carries only the key columns and the owned block, with
// every other cell inherited from the existing row. Owned cells overwrite
// unconditionally, so a successful re-evaluation clears a stale error and
// a failed one clears stale metric values. Results of the external tool
// run are kept as JSON sidecars under the run's metrics directory.
package metriceval

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/archi3d/archi3d/pkg/atomicio"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/eventlog"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

const (
	// StatusOK marks a row whose metrics were computed.
	StatusOK = "ok"
	// StatusError marks a row whose evaluation failed; the paired error
	// column holds the reason.
	StatusError = "error"

	// DefaultToolTimeout bounds one external tool invocation.
	DefaultToolTimeout = 10 * time.Minute
)

// Evaluator computes one metric block for a single completed row. The
// returned row must contain only cells from the evaluator's owned columns.
type Evaluator interface {
	// Name is the evaluator key, used for sidecar names and events.
	Name() string
	// Columns lists the columns this evaluator owns, status and error
	// columns included.
	Columns() []string
	// StatusColumns returns the owned status and error column names.
	StatusColumns() (status, errCol string)
	// Evaluate computes the metrics for one row and returns the owned
	// cells plus the raw tool output for the sidecar.
	Evaluate(ctx context.Context, ws *workspace.Workspace, row types.Row) (types.Row, []byte, error)
}

// Options configures one evaluation pass.
type Options struct {
	RunID string
	// Force recomputes rows whose status column is already set.
	Force bool
	// ToolTimeout bounds each external tool call. Zero means
	// DefaultToolTimeout.
	ToolTimeout time.Duration
}

// Summary reports one evaluation pass.
type Summary struct {
	Candidates int
	Computed   int
	Failed     int
	Skipped    int
	Upsert     csvtable.Result
}

// Run evaluates every completed row of the run that the evaluator has not
// annotated yet and upserts the owned columns back into the generations
// table in one batch.
func Run(ws *workspace.Workspace, ev Evaluator, opts Options) (*Summary, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("metric evaluation requires a run id")
	}
	if opts.ToolTimeout == 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	logger := log.WithComponent("metriceval").With().
		Str("run_id", opts.RunID).
		Str("evaluator", ev.Name()).
		Logger()

	_, rows, err := csvtable.Read(ws.GenerationsCSV())
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureRunTree(opts.RunID); err != nil {
		return nil, err
	}

	statusCol, errCol := ev.StatusColumns()
	summary := &Summary{}
	var updates []types.Row

	for _, row := range rows {
		if row[types.ColRunID] != opts.RunID || row[types.ColStatus] != string(types.StatusCompleted) {
			continue
		}
		summary.Candidates++
		if row[statusCol] != "" && !opts.Force {
			summary.Skipped++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), opts.ToolTimeout)
		owned, raw, evalErr := ev.Evaluate(ctx, ws, row)
		cancel()

		update := types.Row{
			types.ColRunID: row[types.ColRunID],
			types.ColJobID: row[types.ColJobID],
		}
		if evalErr != nil {
			update[statusCol] = StatusError
			update[errCol] = truncate(evalErr.Error(), types.MaxErrorMsgLen)
			summary.Failed++
			logger.Warn().
				Str("job_id", row[types.ColJobID]).
				Err(evalErr).
				Msg("metric evaluation failed")
		} else {
			for col, v := range owned {
				update[col] = v
			}
			update[statusCol] = StatusOK
			update[errCol] = ""
			summary.Computed++
			if len(raw) > 0 {
				sidecar := sidecarPath(ws, opts.RunID, row[types.ColJobID], ev.Name())
				if err := atomicio.WriteFile(sidecar, raw); err != nil {
					return nil, fmt.Errorf("failed to write metric sidecar: %w", err)
				}
			}
		}
		updates = append(updates, update)
	}

	if len(updates) > 0 {
		res, err := csvtable.Upsert(ws.GenerationsCSV(), updates, types.GenerationKeyColumns, csvtable.Options{
			Columns:          types.GenerationColumns,
			FillFromExisting: true,
			OwnedColumns:     ev.Columns(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert metric columns: %w", err)
		}
		summary.Upsert = res
	}

	event := map[string]any{
		"event":      "metric_eval",
		"run_id":     opts.RunID,
		"evaluator":  ev.Name(),
		"candidates": summary.Candidates,
		"computed":   summary.Computed,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}
	if err := eventlog.Append(ws.MetricsLog(), event); err != nil {
		return nil, err
	}

	logger.Info().
		Int("candidates", summary.Candidates).
		Int("computed", summary.Computed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("metric evaluation complete")
	return summary, nil
}

func sidecarPath(ws *workspace.Workspace, runID, jobID, name string) string {
	return filepath.Join(ws.MetricsDir(runID), jobID+"."+name+".json")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// runTool executes an external metric tool and returns its stdout. Stderr
// is folded into the error on failure.
func runTool(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if tool == "" {
		return nil, fmt.Errorf("tool path is not configured")
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", tool, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", tool, err)
	}
	return out, nil
}
