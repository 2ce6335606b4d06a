package types

import (
	"strconv"
	"time"
)

// Status represents the lifecycle state of a generation job.
// Values are persisted in the generations SSOT and must remain stable.
type Status string

const (
	StatusEnqueued  Status = "enqueued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// statusPrecedence orders statuses for duplicate-row merging.
// Higher wins: completed > failed > running > enqueued.
var statusPrecedence = map[Status]int{
	StatusCompleted: 4,
	StatusFailed:    3,
	StatusRunning:   2,
	StatusEnqueued:  1,
}

// StatusPrecedence returns the merge precedence of a status.
// Unknown statuses rank below enqueued.
func StatusPrecedence(s Status) int {
	return statusPrecedence[s]
}

// IssueTag enumerates data-quality issues recorded against catalog items.
type IssueTag string

const (
	IssueNoImages             IssueTag = "no_images"
	IssueTooManyImages        IssueTag = "too_many_images"
	IssueMissingGT            IssueTag = "missing_gt"
	IssueMultipleGTCandidates IssueTag = "multiple_gt_candidates"
	IssueMissingManufacturer  IssueTag = "missing_manufacturer"
	IssueMissingProductName   IssueTag = "missing_product_name"
	IssueMissingDescription   IssueTag = "missing_description"
	IssueMissingCategories    IssueTag = "missing_categories"
)

// MaxImages caps the number of source images carried per item and per job.
const MaxImages = 6

// MaxErrorMsgLen bounds the error summary column in the generations SSOT.
// The full trace lives in the per-job .error.txt sidecar.
const MaxErrorMsgLen = 2000

// Item is a product instance discovered by scanning the dataset tree.
// Keyed by (ProductID, Variant) in the items SSOT.
type Item struct {
	ProductID    string
	Variant      string
	Manufacturer string
	ProductName  string
	CategoryL1   string
	CategoryL2   string
	CategoryL3   string
	Description  string

	// Ordered, capped at MaxImages, workspace-relative POSIX paths.
	ImagePaths []string

	GTObjectPath      string
	DatasetDir        string
	BuildTime         string
	SourceJSONPresent bool
}

// Issue is a free-form data-quality record attached to an item.
type Issue struct {
	ProductID string
	Variant   string
	Tag       IssueTag
	Detail    string
}

// Row is a single CSV record keyed by column name. Missing cells read as "".
type Row map[string]string

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FormatBool serializes a boolean the way the SSOT tables expect.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ParseBool reads a True/False SSOT cell. Empty cells are false.
func ParseBool(s string) bool {
	return s == "True" || s == "true"
}

// FormatTime serializes a timestamp as ISO-8601 UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime reads an ISO-8601 UTC cell. Empty cells yield the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// FormatFloat serializes a float column with stable precision.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToRow converts an item to its SSOT row representation.
func (it *Item) ToRow() Row {
	r := Row{
		ColProductID:         it.ProductID,
		ColVariant:           it.Variant,
		ColManufacturer:      it.Manufacturer,
		ColProductName:       it.ProductName,
		ColCategoryL1:        it.CategoryL1,
		ColCategoryL2:        it.CategoryL2,
		ColCategoryL3:        it.CategoryL3,
		ColDescription:       it.Description,
		ColNImages:           strconv.Itoa(len(it.ImagePaths)),
		ColGTObjectPath:      it.GTObjectPath,
		ColDatasetDir:        it.DatasetDir,
		ColBuildTime:         it.BuildTime,
		ColSourceJSONPresent: FormatBool(it.SourceJSONPresent),
	}
	for i := 0; i < MaxImages; i++ {
		v := ""
		if i < len(it.ImagePaths) {
			v = it.ImagePaths[i]
		}
		r[ImageColumn(i+1)] = v
	}
	return r
}

// ItemFromRow converts an SSOT row back to an item.
func ItemFromRow(r Row) *Item {
	it := &Item{
		ProductID:         r[ColProductID],
		Variant:           r[ColVariant],
		Manufacturer:      r[ColManufacturer],
		ProductName:       r[ColProductName],
		CategoryL1:        r[ColCategoryL1],
		CategoryL2:        r[ColCategoryL2],
		CategoryL3:        r[ColCategoryL3],
		Description:       r[ColDescription],
		GTObjectPath:      r[ColGTObjectPath],
		DatasetDir:        r[ColDatasetDir],
		BuildTime:         r[ColBuildTime],
		SourceJSONPresent: ParseBool(r[ColSourceJSONPresent]),
	}
	for i := 1; i <= MaxImages; i++ {
		if p := r[ImageColumn(i)]; p != "" {
			it.ImagePaths = append(it.ImagePaths, p)
		}
	}
	return it
}

// ToRow converts an issue to its table row representation.
func (is *Issue) ToRow() Row {
	return Row{
		ColProductID: is.ProductID,
		ColVariant:   is.Variant,
		ColIssue:     string(is.Tag),
		ColDetail:    is.Detail,
	}
}
