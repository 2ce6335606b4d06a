package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/archi3d/archi3d/pkg/atomicio"
	"github.com/archi3d/archi3d/pkg/csvtable"
	"github.com/archi3d/archi3d/pkg/eventlog"
	"github.com/archi3d/archi3d/pkg/log"
	"github.com/archi3d/archi3d/pkg/types"
	"github.com/archi3d/archi3d/pkg/workspace"
)

// DefaultVariant is recorded for dataset folders named by product id alone.
const DefaultVariant = "default"

// dirPattern matches dataset sub-directories: `{product_id}` or
// `{product_id} - {variant}`, product ids being all digits.
var dirPattern = regexp.MustCompile(`^(\d+)(?: - (.+))?$`)

// Options configures a catalog build.
type Options struct {
	// EnrichmentPath points at the optional enrichment JSON document.
	// Empty means <dataset>/metadata.json when that file exists.
	EnrichmentPath string
}

// Summary reports what a catalog build produced.
type Summary struct {
	Scanned     int
	Items       int
	Issues      int
	IssueCounts map[string]int
}

// Builder scans the dataset tree and maintains the items SSOT and the
// issues table.
type Builder struct {
	ws   *workspace.Workspace
	opts Options
}

// NewBuilder creates a catalog builder for the given workspace.
func NewBuilder(ws *workspace.Workspace, opts Options) *Builder {
	return &Builder{ws: ws, opts: opts}
}

// Build scans dataset/, enriches from the metadata document, and upserts
// the items SSOT keyed by (product_id, variant). Two consecutive builds
// over an unchanged tree yield identical rows and zero issue churn.
func (b *Builder) Build() (*Summary, error) {
	logger := log.WithComponent("catalog")

	if err := b.ws.EnsureMutableTree(); err != nil {
		return nil, err
	}

	enrichPath := b.opts.EnrichmentPath
	if enrichPath == "" {
		candidate := filepath.Join(b.ws.DatasetDir(), "metadata.json")
		if _, err := os.Stat(candidate); err == nil {
			enrichPath = candidate
		}
	}
	enrichment, err := loadEnrichment(enrichPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.ws.DatasetDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	now := types.FormatTime(time.Now())
	var rows []types.Row
	var issues []types.Issue
	summary := &Summary{IssueCounts: map[string]int{}}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := dirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			logger.Debug().Str("dir", e.Name()).Msg("skipping unrecognized dataset folder")
			continue
		}
		summary.Scanned++

		item, itemIssues, err := b.buildItem(m[1], m[2], e.Name(), enrichment, enrichment != nil, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, item.ToRow())
		issues = append(issues, itemIssues...)
	}

	res, err := csvtable.Upsert(b.ws.ItemsCSV(), rows, types.ItemKeyColumns, csvtable.Options{
		Columns: types.ItemColumns,
		// A rebuild over an unchanged tree must be a no-op row-wise.
		PreserveColumns: []string{types.ColBuildTime},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert items: %w", err)
	}

	if err := b.writeIssues(issues); err != nil {
		return nil, err
	}

	summary.Items = len(rows)
	summary.Issues = len(issues)
	for _, is := range issues {
		summary.IssueCounts[string(is.Tag)]++
	}

	event := map[string]any{
		"event":    "catalog_build",
		"scanned":  summary.Scanned,
		"items":    summary.Items,
		"issues":   summary.Issues,
		"by_issue": summary.IssueCounts,
		"inserted": res.Inserted,
		"updated":  res.Updated,
	}
	if err := eventlog.Append(b.ws.CatalogLog(), event); err != nil {
		return nil, err
	}

	logger.Info().
		Int("items", summary.Items).
		Int("issues", summary.Issues).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Msg("catalog build complete")
	return summary, nil
}

// buildItem assembles one item row plus its data-quality issues.
func (b *Builder) buildItem(productID, variant, dirName string, enrichment enrichmentDoc, enriched bool, now string) (*types.Item, []types.Issue, error) {
	if variant == "" {
		variant = DefaultVariant
	}

	itemDir := filepath.Join(b.ws.DatasetDir(), dirName)
	datasetRel, err := b.ws.Rel(itemDir)
	if err != nil {
		return nil, nil, err
	}

	item := &types.Item{
		ProductID:  productID,
		Variant:    variant,
		DatasetDir: datasetRel,
		BuildTime:  now,
	}
	var issues []types.Issue
	addIssue := func(tag types.IssueTag, detail string) {
		issues = append(issues, types.Issue{ProductID: productID, Variant: variant, Tag: tag, Detail: detail})
	}

	// Images: tagged first, then lexicographic, capped at MaxImages.
	images, err := selectImages(filepath.Join(itemDir, "images"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan images for %s: %w", dirName, err)
	}
	if len(images) > types.MaxImages {
		addIssue(types.IssueTooManyImages, fmt.Sprintf("%d candidate images, keeping %d", len(images), types.MaxImages))
		images = images[:types.MaxImages]
	}
	if len(images) == 0 {
		addIssue(types.IssueNoImages, "no usable images found")
	}
	for _, abs := range images {
		rel, err := b.ws.Rel(abs)
		if err != nil {
			return nil, nil, err
		}
		item.ImagePaths = append(item.ImagePaths, rel)
	}

	// Ground truth: .glb preferred over .fbx.
	gtPath, multiple, err := selectGT(filepath.Join(itemDir, "gt"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan gt for %s: %w", dirName, err)
	}
	if gtPath == "" {
		addIssue(types.IssueMissingGT, "no .glb or .fbx ground truth found")
	} else {
		rel, err := b.ws.Rel(gtPath)
		if err != nil {
			return nil, nil, err
		}
		item.GTObjectPath = rel
		if multiple {
			addIssue(types.IssueMultipleGTCandidates, filepath.Base(gtPath)+" selected")
		}
	}

	// Enrichment, when a document was provided.
	if enriched {
		entry, found := enrichment[productID]
		item.SourceJSONPresent = found
		item.Manufacturer = entry.Manufacturer
		item.ProductName = localized(entry.Name)
		item.Description = localized(entry.Description)
		cats := deepestCategories(entry.Categories)
		if len(cats) > 0 {
			item.CategoryL1 = cats[0]
		}
		if len(cats) > 1 {
			item.CategoryL2 = cats[1]
		}
		if len(cats) > 2 {
			item.CategoryL3 = cats[2]
		}

		if item.Manufacturer == "" {
			addIssue(types.IssueMissingManufacturer, "")
		}
		if item.ProductName == "" {
			addIssue(types.IssueMissingProductName, "")
		}
		if item.Description == "" {
			addIssue(types.IssueMissingDescription, "")
		}
		if len(cats) == 0 {
			addIssue(types.IssueMissingCategories, "")
		}
	}

	return item, issues, nil
}

// writeIssues replaces the issues table with the full current issue set.
// The build is the sole writer, but the table lock is still taken so a
// concurrent reader mid-upsert never sees a half-written file pair.
func (b *Builder) writeIssues(issues []types.Issue) error {
	sort.Slice(issues, func(i, j int) bool {
		a, c := issues[i], issues[j]
		if a.ProductID != c.ProductID {
			return a.ProductID < c.ProductID
		}
		if a.Variant != c.Variant {
			return a.Variant < c.Variant
		}
		return a.Tag < c.Tag
	})

	rows := make([]types.Row, 0, len(issues))
	for i := range issues {
		rows = append(rows, issues[i].ToRow())
	}

	unlock, err := atomicio.Lock(b.ws.ItemsIssuesCSV()+".lock", csvtable.DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer unlock()
	if err := csvtable.Write(b.ws.ItemsIssuesCSV(), types.IssueColumns, rows); err != nil {
		return fmt.Errorf("failed to write issues table: %w", err)
	}
	return nil
}
