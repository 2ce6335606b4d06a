package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/eventlog"
	"github.com/archi3d/archi3d/pkg/identity"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/metrics"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// PolicyUseUpTo6 is the only image-selection policy currently defined: take
// every image the catalog selected for the item, already capped at six.
const PolicyUseUpTo6 = "use_up_to_6"

// Options configures one batch-create invocation.
type Options struct {
	// RunID names the batch; empty means an ISO-8601 UTC slug is generated.
	RunID string
	// Algos is the explicit list of algorithm keys to enqueue per item.
	Algos []string
	// Policy is the image-selection policy identifier.
	Policy string
	// Include keeps only items matching this case-insensitive substring.
	Include string
	// Exclude drops items matching this case-insensitive substring.
	Exclude string
	// WithGTOnly drops items without a ground-truth object.
	WithGTOnly bool
	// Limit truncates the surviving item list when positive.
	Limit int
	// DryRun computes and logs the plan without writing the SSOT.
	DryRun bool
}

// Summary reports what a planning pass did.
type Summary struct {
	RunID       string
	Candidates  int
	Enqueued    int
	Skipped     int
	SkipReasons map[string]int
	Inserted    int
	Updated     int
	Unchanged   int
}

// Planner reads the items SSOT and enqueues generation rows.
type Planner struct {
	ws *workspace.Workspace
}

// New creates a planner for the given workspace.
func New(ws *workspace.Workspace) *Planner {
	return &Planner{ws: ws}
}

// NewRunID generates the default run identifier: a UTC timestamp slug.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z")
}

// Plan applies the filters, computes deterministic job identities, and
// upserts enqueued rows into the generations SSOT. Re-planning the same
// batch is a no-op: job ids are deterministic and created_at is preserved
// first-write-wins.
func (p *Planner) Plan(opts Options) (*Summary, error) {
	if len(opts.Algos) == 0 {
		return nil, fmt.Errorf("batch create requires at least one algorithm")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyUseUpTo6
	}
	if opts.Policy != PolicyUseUpTo6 {
		return nil, fmt.Errorf("unknown image-selection policy %q", opts.Policy)
	}

	runID := opts.RunID
	if runID == "" {
		runID = NewRunID(time.Now())
	}
	logger := log.WithComponent("planner").With().Str("run_id", runID).Logger()

	if err := p.ws.EnsureMutableTree(); err != nil {
		return nil, err
	}

	_, itemRows, err := csvtable.Read(p.ws.ItemsCSV())
	if err != nil {
		return nil, err
	}
	if len(itemRows) == 0 {
		return nil, fmt.Errorf("items SSOT is empty; run catalog build first")
	}

	summary := &Summary{RunID: runID, SkipReasons: map[string]int{}}
	skip := func(reason string) {
		summary.Skipped++
		summary.SkipReasons[reason]++
	}

	// Filter order: include, exclude, with_gt_only, zero used images, limit.
	var survivors []*types.Item
	for _, row := range itemRows {
		item := types.ItemFromRow(row)
		summary.Candidates++

		haystack := strings.ToLower(item.ProductID + " " + item.Variant + " " + item.ProductName)
		if opts.Include != "" && !strings.Contains(haystack, strings.ToLower(opts.Include)) {
			skip("filtered_include")
			continue
		}
		if opts.Exclude != "" && strings.Contains(haystack, strings.ToLower(opts.Exclude)) {
			skip("filtered_exclude")
			continue
		}
		if opts.WithGTOnly && item.GTObjectPath == "" {
			skip("with_gt_only")
			continue
		}
		if len(item.ImagePaths) == 0 {
			skip("no_images")
			continue
		}
		survivors = append(survivors, item)
	}
	if opts.Limit > 0 && len(survivors) > opts.Limit {
		for range survivors[opts.Limit:] {
			skip("limit")
		}
		survivors = survivors[:opts.Limit]
	}

	now := types.FormatTime(time.Now())
	var rows []types.Row
	seen := map[string]bool{}
	for _, item := range survivors {
		for _, algo := range opts.Algos {
			used := item.ImagePaths // policy use_up_to_6
			hash := identity.ImageSetHash(used)
			jobID := identity.JobID(item.ProductID, item.Variant, algo, hash)
			if seen[jobID] {
				skip("duplicate_job")
				continue
			}
			seen[jobID] = true
			rows = append(rows, p.buildRow(runID, jobID, algo, hash, used, item, now))
			summary.Enqueued++
		}
	}

	if !opts.DryRun {
		res, err := csvtable.Upsert(p.ws.GenerationsCSV(), rows, types.GenerationKeyColumns, csvtable.Options{
			Columns: types.GenerationColumns,
			// Re-planning must not rewrite history: the first enqueue wins.
			PreserveColumns: []string{types.ColCreatedAt},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert generations: %w", err)
		}
		summary.Inserted = res.Inserted
		summary.Updated = res.Updated
		summary.Unchanged = res.Unchanged
		metrics.JobsEnqueued.Add(float64(res.Inserted))

		if err := p.writeManifest(runID); err != nil {
			return nil, err
		}
	}

	event := map[string]any{
		"event":        "batch_create",
		"run_id":       runID,
		"candidates":   summary.Candidates,
		"enqueued":     summary.Enqueued,
		"skipped":      summary.Skipped,
		"skip_reasons": summary.SkipReasons,
		"dry_run":      opts.DryRun,
	}
	if err := eventlog.Append(p.ws.BatchLog(), event); err != nil {
		return nil, err
	}

	logger.Info().
		Int("candidates", summary.Candidates).
		Int("enqueued", summary.Enqueued).
		Int("skipped", summary.Skipped).
		Bool("dry_run", opts.DryRun).
		Msg("batch planned")
	return summary, nil
}

// buildRow assembles one enqueued generation row with the carry-over fields
// copied from the parent item.
func (p *Planner) buildRow(runID, jobID, algo, hash string, used []string, item *types.Item, now string) types.Row {
	row := types.Row{
		types.ColRunID:        runID,
		types.ColJobID:        jobID,
		types.ColProductID:    item.ProductID,
		types.ColVariant:      item.Variant,
		types.ColManufacturer: item.Manufacturer,
		types.ColProductName:  item.ProductName,
		types.ColCategoryL1:   item.CategoryL1,
		types.ColCategoryL2:   item.CategoryL2,
		types.ColCategoryL3:   item.CategoryL3,
		types.ColDescription:  item.Description,
		types.ColAlgo:         algo,
		types.ColUsedNImages:  strconv.Itoa(len(used)),
		types.ColImageSetHash: hash,
		types.ColGTObjectPath: item.GTObjectPath,
		types.ColStatus:       string(types.StatusEnqueued),
		types.ColCreatedAt:    now,
	}
	for i := 1; i <= types.MaxImages; i++ {
		v := ""
		if i-1 < len(used) {
			v = used[i-1]
		}
		row[types.UsedImageColumn(i)] = v
	}
	// Every remaining schema column is present but empty; execution and
	// metric cells belong to the worker and the evaluators.
	for _, col := range types.GenerationColumns {
		if _, ok := row[col]; !ok {
			row[col] = ""
		}
	}
	return row
}

// writeManifest projects the enqueued rows of this run into
// runs/<run_id>/manifest.csv.
func (p *Planner) writeManifest(runID string) error {
	if err := p.ws.EnsureRunTree(runID); err != nil {
		return err
	}

	_, rows, err := csvtable.Read(p.ws.GenerationsCSV())
	if err != nil {
		return err
	}

	var manifest []types.Row
	for _, row := range rows {
		if row[types.ColRunID] != runID || row[types.ColStatus] != string(types.StatusEnqueued) {
			continue
		}
		out := types.Row{}
		for _, col := range types.ManifestColumns {
			out[col] = row[col]
		}
		manifest = append(manifest, out)
	}

	if err := csvtable.Write(p.ws.ManifestCSV(runID), types.ManifestColumns, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
