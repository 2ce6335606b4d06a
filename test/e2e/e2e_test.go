// Package e2e drives the full pipeline in-process against a scratch
// workspace: dataset scan, batch planning, dry-run generation,
// consolidation and reporting.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi3d/archi3d/pkg/adapter"
	"github.com/archi3d/archi3d/pkg/catalog"
	"github.com/archi3d/archi3d/pkg/config"
	"github.com/archi3d/archi3d/pkg/consolidate"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/planner"
	"github.com/archi3d/archi3d/pkg/report"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/worker"
	"github.com/archi3d/archi3d/pkg/workspace"
)

var zeroBackoff = []time.Duration{0, 0, 0}

func newEnv(t *testing.T) (*workspace.Workspace, *config.Config) {
	t.Helper()
	t.Setenv("ARCHI3D_GPU", "test-gpu")

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	cfg := &config.Config{
		WorkspaceRoot: ws.Root(),
		EnvTag:        "e2e",
		Pricing:       map[string]config.Price{},
	}
	return ws, cfg
}

// scaffoldProduct writes one dataset product directory with tagged images
// and an optional ground-truth object.
func scaffoldProduct(t *testing.T, ws *workspace.Workspace, dirName string, images []string, gt string) {
	t.Helper()
	base := filepath.Join(ws.DatasetDir(), dirName)
	imgDir := filepath.Join(base, "images")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	for _, name := range images {
		require.NoError(t, os.WriteFile(filepath.Join(imgDir, name), []byte("jpeg"), 0o644))
	}
	if gt != "" {
		gtDir := filepath.Join(base, "gt")
		require.NoError(t, os.MkdirAll(gtDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(gtDir, gt), []byte("glTF"), 0o644))
	}
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

// TestPipeline walks one product through catalog, planning, dry-run
// generation, consolidation and reporting, pinning the documented job
// identity along the way.
func TestPipeline(t *testing.T) {
	ws, cfg := newEnv(t)
	scaffoldProduct(t, ws, "335888", []string{"335888_A.jpg"}, "335888.glb")

	catSummary, err := catalog.NewBuilder(ws, catalog.Options{}).Build()
	require.NoError(t, err)
	assert.Equal(t, 1, catSummary.Items)
	assert.Equal(t, 0, catSummary.Issues)

	planSummary, err := planner.New(ws).Plan(planner.Options{
		RunID: "r1",
		Algos: []string{"algo1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, planSummary.Enqueued)

	rows := runRows(t, ws, "r1")
	require.Len(t, rows, 1)
	assert.Equal(t, "f3cea20e9e37a9ae0b859d7369c14e6dc8744d20", rows[0][types.ColImageSetHash])
	assert.Equal(t, "273934900923", rows[0][types.ColJobID])
	assert.Equal(t, "dataset/335888/gt/335888.glb", rows[0][types.ColGTObjectPath])

	engine := worker.NewEngine(ws, cfg, adapter.NewRegistry(), worker.Options{
		RunID:   "r1",
		DryRun:  true,
		Backoff: zeroBackoff,
	})
	workSummary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, workSummary.Completed)

	conSummary, err := consolidate.New(ws).Run(consolidate.Options{RunID: "r1", FixStatus: true})
	require.NoError(t, err)
	assert.Equal(t, 1, conSummary.Considered)
	assert.Equal(t, 1, conSummary.HistogramAfter[string(types.StatusCompleted)])

	rows = runRows(t, ws, "r1")
	require.Len(t, rows, 1)
	assert.Equal(t, string(types.StatusCompleted), rows[0][types.ColStatus])
	assert.Equal(t, "runs/r1/outputs/273934900923/generated.glb", rows[0][types.ColGenObjectPath])

	out, err := report.Build(ws, "r1")
	require.NoError(t, err)
	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "273934900923")
}

// TestDeterminismAcrossRestarts rebuilds the catalog and replans the same
// batch with fresh instances and expects both tables byte-identical, as a
// resumed process would see them.
func TestDeterminismAcrossRestarts(t *testing.T) {
	ws, _ := newEnv(t)
	scaffoldProduct(t, ws, "100", []string{"100_A.jpg", "100_B.jpg"}, "")
	scaffoldProduct(t, ws, "200 - oak", []string{"front.jpg"}, "200.glb")

	_, err := catalog.NewBuilder(ws, catalog.Options{}).Build()
	require.NoError(t, err)
	_, err = planner.New(ws).Plan(planner.Options{RunID: "r1", Algos: []string{"algo1", "algo2"}})
	require.NoError(t, err)

	items1, err := os.ReadFile(ws.ItemsCSV())
	require.NoError(t, err)
	gens1, err := os.ReadFile(ws.GenerationsCSV())
	require.NoError(t, err)

	// Fresh builder and planner, same inputs.
	_, err = catalog.NewBuilder(ws, catalog.Options{}).Build()
	require.NoError(t, err)
	planSummary, err := planner.New(ws).Plan(planner.Options{RunID: "r1", Algos: []string{"algo1", "algo2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, planSummary.Inserted)
	assert.Equal(t, 0, planSummary.Updated)

	items2, err := os.ReadFile(ws.ItemsCSV())
	require.NoError(t, err)
	gens2, err := os.ReadFile(ws.GenerationsCSV())
	require.NoError(t, err)
	assert.Equal(t, items1, items2)
	assert.Equal(t, gens1, gens2)
}

// TestConcurrentWorkers runs two engines over the same batch and expects
// every job to reach a terminal state exactly once.
func TestConcurrentWorkers(t *testing.T) {
	ws, cfg := newEnv(t)
	for i := 0; i < 8; i++ {
		id := string(rune('1'+i)) + "00"
		scaffoldProduct(t, ws, id, []string{id + "_A.jpg"}, "")
	}

	_, err := catalog.NewBuilder(ws, catalog.Options{}).Build()
	require.NoError(t, err)
	planSummary, err := planner.New(ws).Plan(planner.Options{RunID: "r1", Algos: []string{"algo1"}})
	require.NoError(t, err)
	require.Equal(t, 8, planSummary.Enqueued)

	summaries := make([]*worker.Summary, 2)
	var wg sync.WaitGroup
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engine := worker.NewEngine(ws, cfg, adapter.NewRegistry(), worker.Options{
				RunID:       "r1",
				DryRun:      true,
				MaxParallel: 4,
				Backoff:     zeroBackoff,
			})
			s, err := engine.Run(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, s := range summaries {
		require.NotNil(t, s)
		assert.Equal(t, 8, s.Selected)
		assert.Equal(t, s.Selected, s.Completed+s.Failed+s.Skipped)
		assert.Zero(t, s.Failed)
		completed += s.Completed
	}
	// The marker-based claim hands each job to exactly one engine.
	assert.Equal(t, 8, completed)

	rows := runRows(t, ws, "r1")
	require.Len(t, rows, 8)
	for _, row := range rows {
		assert.Equal(t, string(types.StatusCompleted), row[types.ColStatus])
		_, err := os.Stat(ws.CompletedMarker("r1", row[types.ColJobID]))
		assert.NoError(t, err)
	}

	conSummary, err := consolidate.New(ws).Run(consolidate.Options{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 8, conSummary.Unchanged+conSummary.Updated)
	assert.Equal(t, 8, conSummary.HistogramAfter[string(types.StatusCompleted)])
}
