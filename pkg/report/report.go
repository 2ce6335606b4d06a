// Package report renders read-only HTML summaries of a run from the
// generations table. It never writes to the SSOT.
package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/archi3d/archi3d/pkg/atomicio"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// StatusCount is one bar of the status histogram.
type StatusCount struct {
	Status string
	Count  int
}

// AlgoSummary aggregates one algorithm's rows within the run.
type AlgoSummary struct {
	Algo         string
	Total        int
	Completed    int
	Failed       int
	AvgDurationS string
	AvgFScore    string
	AvgVFScore   string
}

// FailureRow is one failed job shown in the report.
type FailureRow struct {
	JobID     string
	ProductID string
	Variant   string
	Algo      string
	ErrorMsg  string
}

// Data is the template context for one run report.
type Data struct {
	RunID       string
	GeneratedAt string
	Total       int
	Statuses    []StatusCount
	Algos       []AlgoSummary
	Failures    []FailureRow
}

// Build renders the HTML report for a run into reports/<run_id>.html and
// returns the output path.
func Build(ws *workspace.Workspace, runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("report requires a run id")
	}
	logger := log.WithComponent("report").With().Str("run_id", runID).Logger()

	_, rows, err := csvtable.Read(ws.GenerationsCSV())
	if err != nil {
		return "", err
	}

	data := Data{
		RunID:       runID,
		GeneratedAt: types.FormatTime(time.Now()),
	}
	statusCounts := map[string]int{}
	byAlgo := map[string][]types.Row{}

	for _, row := range rows {
		if row[types.ColRunID] != runID {
			continue
		}
		data.Total++
		status := row[types.ColStatus]
		if status == "" {
			status = string(types.StatusEnqueued)
		}
		statusCounts[status]++
		algo := row[types.ColAlgo]
		byAlgo[algo] = append(byAlgo[algo], row)

		if status == string(types.StatusFailed) {
			data.Failures = append(data.Failures, FailureRow{
				JobID:     row[types.ColJobID],
				ProductID: row[types.ColProductID],
				Variant:   row[types.ColVariant],
				Algo:      algo,
				ErrorMsg:  row[types.ColErrorMsg],
			})
		}
	}
	if data.Total == 0 {
		return "", fmt.Errorf("no generation rows found for run %s", runID)
	}

	for _, status := range []types.Status{
		types.StatusEnqueued, types.StatusRunning, types.StatusCompleted, types.StatusFailed,
	} {
		if n := statusCounts[string(status)]; n > 0 {
			data.Statuses = append(data.Statuses, StatusCount{Status: string(status), Count: n})
		}
	}

	algos := make([]string, 0, len(byAlgo))
	for algo := range byAlgo {
		algos = append(algos, algo)
	}
	sort.Strings(algos)
	for _, algo := range algos {
		data.Algos = append(data.Algos, summarizeAlgo(algo, byAlgo[algo]))
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	out := filepath.Join(ws.ReportsDir(), runID+".html")
	if err := atomicio.WriteFile(out, buf.Bytes()); err != nil {
		return "", err
	}

	logger.Info().Str("path", out).Int("rows", data.Total).Msg("report written")
	return out, nil
}

func summarizeAlgo(algo string, rows []types.Row) AlgoSummary {
	s := AlgoSummary{Algo: algo, Total: len(rows)}
	var durSum, fSum, vfSum float64
	var durN, fN, vfN int
	for _, row := range rows {
		switch row[types.ColStatus] {
		case string(types.StatusCompleted):
			s.Completed++
		case string(types.StatusFailed):
			s.Failed++
		}
		if v, ok := parseFloat(row[types.ColGenerationDurationS]); ok {
			durSum += v
			durN++
		}
		if v, ok := parseFloat(row[types.ColGeomFScore]); ok {
			fSum += v
			fN++
		}
		if v, ok := parseFloat(row[types.ColVFScore]); ok {
			vfSum += v
			vfN++
		}
	}
	s.AvgDurationS = avg(durSum, durN)
	s.AvgFScore = avg(fSum, fN)
	s.AvgVFScore = avg(vfSum, vfN)
	return s
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func avg(sum float64, n int) string {
	if n == 0 {
		return "n/a"
	}
	return strconv.FormatFloat(sum/float64(n), 'f', 3, 64)
}
