package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi3d/archi3d/pkg/adapter"
	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/planner"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// zeroBackoff keeps the retry budget at three without sleeping.
var zeroBackoff = []time.Duration{0, 0, 0}

func newTestEnv(t *testing.T, nItems int) (*workspace.Workspace, *config.Config) {
	t.Helper()
	t.Setenv("ARCHI3D_GPU", "test-gpu")

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	var items []types.Row
	for i := 0; i < nItems; i++ {
		id := string(rune('1'+i)) + "00"
		item := &types.Item{
			ProductID:  id,
			Variant:    "default",
			ImagePaths: []string{"dataset/" + id + "/images/a.jpg"},
		}
		items = append(items, item.ToRow())
	}
	_, err = csvtable.Upsert(ws.ItemsCSV(), items, types.ItemKeyColumns, csvtable.Options{
		Columns: types.ItemColumns,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		WorkspaceRoot: ws.Root(),
		EnvTag:        "test",
		Pricing:       map[string]config.Price{},
	}
	return ws, cfg
}

func planRun(t *testing.T, ws *workspace.Workspace, algo string) string {
	t.Helper()
	summary, err := planner.New(ws).Plan(planner.Options{RunID: "r1", Algos: []string{algo}})
	require.NoError(t, err)
	require.Positive(t, summary.Enqueued)
	return summary.RunID
}

func runRows(t *testing.T, ws *workspace.Workspace, runID string) []types.Row {
	t.Helper()
	_, rows, err := csvtable.Read(ws.GenerationsCSV())
	require.NoError(t, err)
	var out []types.Row
	for _, r := range rows {
		if r[types.ColRunID] == runID {
			out = append(out, r)
		}
	}
	return out
}

// countingAdapter fails transiently until the configured attempt, then
// behaves like the dry-run adapter.
type countingAdapter struct {
	calls         atomic.Int32
	failUntil     int32
	failPermanent bool
}

func (a *countingAdapter) Execute(ctx context.Context, req *adapter.Request) (*adapter.Result, error) {
	n := a.calls.Add(1)
	if n <= a.failUntil {
		if a.failPermanent {
			return nil, adapter.Permanentf("rejected input on attempt %d", n)
		}
		return nil, adapter.Transientf("backend busy on attempt %d", n)
	}
	return adapter.DryRun{}.Execute(ctx, req)
}

// TestDryRunHappyPath tests the full lifecycle for one dry-run job.
func TestDryRunHappyPath(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "algo1")

	engine := NewEngine(ws, cfg, adapter.NewRegistry(), Options{
		RunID:   runID,
		DryRun:  true,
		Backoff: zeroBackoff,
	})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	rows := runRows(t, ws, runID)
	require.Len(t, rows, 1)
	row := rows[0]
	jobID := row[types.ColJobID]

	assert.Equal(t, string(types.StatusCompleted), row[types.ColStatus])
	assert.Equal(t, "runs/"+runID+"/outputs/"+jobID+"/generated.glb", row[types.ColGenObjectPath])
	assert.Equal(t, adapter.DryRunAlgoVersion, row[types.ColAlgoVersion])
	assert.Equal(t, "test-gpu", row[types.ColWorkerGPU])
	assert.Equal(t, "test", row[types.ColWorkerEnv])
	assert.Equal(t, "unknown", row[types.ColPriceSource])
	assert.NotEmpty(t, row[types.ColGenerationStart])
	assert.NotEmpty(t, row[types.ColGenerationDurationS])
	assert.NotEmpty(t, row[types.PreviewColumn(1)])

	// Markers: completed present, inprogress cleared.
	_, err = os.Stat(ws.CompletedMarker(runID, jobID))
	assert.NoError(t, err)
	_, err = os.Stat(ws.InProgressMarker(runID, jobID))
	assert.True(t, os.IsNotExist(err))

	// Output exists and is non-empty.
	st, err := os.Stat(filepath.Join(ws.OutputsDir(runID, jobID), "generated.glb"))
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

// TestConfigPricing tests the config fallback of the price resolution.
func TestConfigPricing(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	cfg.Pricing["algo1"] = config.Price{UnitPriceUSD: 0.25}
	runID := planRun(t, ws, "algo1")

	engine := NewEngine(ws, cfg, adapter.NewRegistry(), Options{
		RunID: runID, DryRun: true, Backoff: zeroBackoff,
	})
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	rows := runRows(t, ws, runID)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.25", rows[0][types.ColUnitPriceUSD])
	assert.Equal(t, "USD", rows[0][types.ColCurrency])
	assert.Equal(t, "config", rows[0][types.ColPriceSource])
	assert.Equal(t, "0.25", rows[0][types.ColEstimatedCostUSD])
}

// TestTransientRetry tests that transient failures are retried and the job
// still completes within the backoff budget.
func TestTransientRetry(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "flaky")

	ad := &countingAdapter{failUntil: 2}
	registry := adapter.NewRegistry()
	registry.Register("flaky", ad)

	engine := NewEngine(ws, cfg, registry, Options{RunID: runID, Backoff: zeroBackoff})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, int32(3), ad.calls.Load())
}

// TestTransientRetryExhaustion tests that a persistently transient backend
// fails the job after the budget runs out.
func TestTransientRetryExhaustion(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "down")

	ad := &countingAdapter{failUntil: 100}
	registry := adapter.NewRegistry()
	registry.Register("down", ad)

	engine := NewEngine(ws, cfg, registry, Options{RunID: runID, Backoff: zeroBackoff})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	// One initial attempt plus one per backoff slot.
	assert.Equal(t, int32(len(zeroBackoff)+1), ad.calls.Load())
}

// TestPermanentFailure tests the failure path: no retry, markers and error
// artifacts in place, truncated error_msg on the row.
func TestPermanentFailure(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "strict")

	ad := &countingAdapter{failUntil: 100, failPermanent: true}
	registry := adapter.NewRegistry()
	registry.Register("strict", ad)

	engine := NewEngine(ws, cfg, registry, Options{RunID: runID, Backoff: zeroBackoff})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int32(1), ad.calls.Load())

	rows := runRows(t, ws, runID)
	require.Len(t, rows, 1)
	row := rows[0]
	jobID := row[types.ColJobID]
	assert.Equal(t, string(types.StatusFailed), row[types.ColStatus])
	assert.Contains(t, row[types.ColErrorMsg], "rejected input")

	_, err = os.Stat(ws.FailedMarker(runID, jobID))
	assert.NoError(t, err)
	trace, err := os.ReadFile(ws.ErrorFile(runID, jobID))
	require.NoError(t, err)
	assert.Contains(t, string(trace), "rejected input")
}

// TestErrorMsgTruncation tests the 2000-char cap on the row cell while the
// sidecar keeps the full trace.
func TestErrorMsgTruncation(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "verbose")

	longMsg := strings.Repeat("x", 3000)
	registry := adapter.NewRegistry()
	registry.Register("verbose", adapterFunc(func(context.Context, *adapter.Request) (*adapter.Result, error) {
		return nil, adapter.Permanentf("%s", longMsg)
	}))

	engine := NewEngine(ws, cfg, registry, Options{RunID: runID, Backoff: zeroBackoff})
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	rows := runRows(t, ws, runID)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0][types.ColErrorMsg], types.MaxErrorMsgLen)

	trace, err := os.ReadFile(ws.ErrorFile(runID, rows[0][types.ColJobID]))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(trace), 3000)
}

type adapterFunc func(context.Context, *adapter.Request) (*adapter.Result, error)

func (f adapterFunc) Execute(ctx context.Context, req *adapter.Request) (*adapter.Result, error) {
	return f(ctx, req)
}

// TestClaimSkipsTerminalJobs tests resumability: jobs with a terminal marker
// are skipped, not re-run.
func TestClaimSkipsTerminalJobs(t *testing.T) {
	ws, cfg := newTestEnv(t, 1)
	runID := planRun(t, ws, "algo1")

	rows := runRows(t, ws, runID)
	require.Len(t, rows, 1)
	jobID := rows[0][types.ColJobID]

	require.NoError(t, ws.EnsureRunTree(runID))
	require.NoError(t, os.WriteFile(ws.CompletedMarker(runID, jobID), nil, 0o644))

	engine := NewEngine(ws, cfg, adapter.NewRegistry(), Options{
		RunID: runID, DryRun: true, Backoff: zeroBackoff,
	})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Completed)

	// The row is untouched: reconciling it is the consolidator's job.
	rows = runRows(t, ws, runID)
	assert.Equal(t, string(types.StatusEnqueued), rows[0][types.ColStatus])
}

// TestFailFast tests cooperative shutdown after the first failure.
func TestFailFast(t *testing.T) {
	ws, cfg := newTestEnv(t, 3)
	runID := planRun(t, ws, "bad")

	registry := adapter.NewRegistry()
	registry.Register("bad", adapterFunc(func(context.Context, *adapter.Request) (*adapter.Result, error) {
		return nil, adapter.Permanentf("always fails")
	}))

	engine := NewEngine(ws, cfg, registry, Options{
		RunID: runID, FailFast: true, Backoff: zeroBackoff,
	})
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Selected)
	// The failure is observed between jobs, so at most one more job can be
	// in flight when the feed stops; the last job is never handed out.
	assert.GreaterOrEqual(t, summary.Failed, 1)
	assert.LessOrEqual(t, summary.Failed, 2)
	assert.Equal(t, 0, summary.Completed)
}

// TestJobMatcher tests the three filter syntaxes.
func TestJobMatcher(t *testing.T) {
	tests := []struct {
		filter string
		jobID  string
		want   bool
	}{
		{"", "abc123def456", true},
		{"c123", "abc123def456", true},
		{"zzz", "abc123def456", false},
		{"abc*", "abc123def456", true},
		{"abc*", "xbc123def456", false},
		{"re:^[a-f0-9]{12}$", "abc123def456", true},
		{"re:^[a-f0-9]{12}$", "xyz", false},
	}
	for _, tt := range tests {
		m, err := newJobMatcher(tt.filter)
		require.NoError(t, err)
		if got := m.match(tt.jobID); got != tt.want {
			t.Errorf("match(%q, %q) = %v, want %v", tt.filter, tt.jobID, got, tt.want)
		}
	}
}

// TestJobMatcherInvalid tests bad filter compilation errors.
func TestJobMatcherInvalid(t *testing.T) {
	_, err := newJobMatcher("re:[")
	assert.Error(t, err)

	_, err = newJobMatcher("*[")
	assert.Error(t, err)
}
