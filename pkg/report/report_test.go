package report

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.EnsureMutableTree())
	return ws
}

func seedRows(t *testing.T, ws *workspace.Workspace, rows []types.Row) {
	t.Helper()
	for i := range rows {
		for _, col := range types.GenerationColumns {
			if _, ok := rows[i][col]; !ok {
				rows[i][col] = ""
			}
		}
	}
	_, err := csvtable.Upsert(ws.GenerationsCSV(), rows, types.GenerationKeyColumns, csvtable.Options{
		Columns: types.GenerationColumns,
	})
	require.NoError(t, err)
}

// TestBuildReport tests that the rendered HTML carries the status
// histogram, the per-algorithm table and the failure list.
func TestBuildReport(t *testing.T) {
	ws := newTestWorkspace(t)
	seedRows(t, ws, []types.Row{
		{
			types.ColRunID: "r1", types.ColJobID: "j1",
			types.ColProductID: "100", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus:              string(types.StatusCompleted),
			types.ColGenerationDurationS: "90",
			types.ColGeomFScore:          "0.8",
			types.ColVFScore:             "0.6",
		},
		{
			types.ColRunID: "r1", types.ColJobID: "j2",
			types.ColProductID: "200", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus:   string(types.StatusFailed),
			types.ColErrorMsg: "backend exploded",
		},
		{
			types.ColRunID: "r1", types.ColJobID: "j3",
			types.ColProductID: "300", types.ColVariant: "default", types.ColAlgo: "algo2",
			types.ColStatus: string(types.StatusEnqueued),
		},
		// Another run, must not leak into the report.
		{
			types.ColRunID: "r2", types.ColJobID: "j9",
			types.ColProductID: "900", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus: string(types.StatusCompleted),
		},
	})

	out, err := Build(ws, "r1")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	html := string(data)

	assert.Contains(t, html, "r1")
	assert.Contains(t, html, "algo1")
	assert.Contains(t, html, "algo2")
	assert.Contains(t, html, "backend exploded")
	assert.Contains(t, html, "0.800")
	assert.Contains(t, html, "90.000")
	assert.NotContains(t, html, "j9")
}

// TestBuildAverages tests the per-algorithm aggregation including the n/a
// placeholder for empty metric columns.
func TestBuildAverages(t *testing.T) {
	ws := newTestWorkspace(t)
	seedRows(t, ws, []types.Row{
		{
			types.ColRunID: "r1", types.ColJobID: "j1",
			types.ColProductID: "100", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus:              string(types.StatusCompleted),
			types.ColGenerationDurationS: "30",
			types.ColGeomFScore:          "0.5",
		},
		{
			types.ColRunID: "r1", types.ColJobID: "j2",
			types.ColProductID: "200", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus:              string(types.StatusCompleted),
			types.ColGenerationDurationS: "60",
			types.ColGeomFScore:          "0.7",
		},
	})

	_, rows, err := csvtable.Read(ws.GenerationsCSV())
	require.NoError(t, err)
	s := summarizeAlgo("algo1", rows)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, "45.000", s.AvgDurationS)
	assert.Equal(t, "0.600", s.AvgFScore)
	assert.Equal(t, "n/a", s.AvgVFScore)
}

// TestBuildUnknownRun tests the guard against empty runs.
func TestBuildUnknownRun(t *testing.T) {
	ws := newTestWorkspace(t)
	seedRows(t, ws, []types.Row{
		{
			types.ColRunID: "r1", types.ColJobID: "j1",
			types.ColProductID: "100", types.ColVariant: "default", types.ColAlgo: "algo1",
			types.ColStatus: string(types.StatusCompleted),
		},
	})

	_, err := Build(ws, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no generation rows")
}
