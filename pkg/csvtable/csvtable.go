package csvtable

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/archi3d/archi3d/pkg/atomicio"
	"github.com/archi3d/archi3d/pkg/types"
)

// utf8BOM is prepended to every table so spreadsheet tools detect UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultLockTimeout bounds the wait for a contended table lock.
const DefaultLockTimeout = 30 * time.Second

// Options tunes an Upsert.
type Options struct {
	// Columns is the table schema used when the target does not exist yet.
	// When the target exists, its header wins and unseen columns from this
	// list (and from the incoming rows) are appended.
	Columns []string

	// LockTimeout bounds the advisory lock wait. Zero means DefaultLockTimeout.
	LockTimeout time.Duration

	// PreserveColumns lists columns where the first write wins: if the
	// existing row has a non-empty cell, the incoming cell is ignored.
	PreserveColumns []string

	// FillFromExisting makes empty incoming cells inherit the existing cell
	// instead of clearing it. Metric evaluators use this to touch only the
	// columns they own.
	FillFromExisting bool

	// OwnedColumns exempts columns from FillFromExisting: an empty incoming
	// cell in an owned column overwrites the existing cell. Without this a
	// writer could never clear one of its own columns.
	OwnedColumns []string

	// ReplaceColumn and ReplaceValue enable replace-run mode: every existing
	// row whose ReplaceColumn cell equals ReplaceValue is deleted before the
	// incoming rows are inserted, atomically within the same lock.
	ReplaceColumn string
	ReplaceValue  string
}

// Result reports what an Upsert changed.
type Result struct {
	Inserted  int // keys that did not exist before
	Updated   int // keys whose row content changed
	Unchanged int // keys whose merged content equals the existing row
	Deleted   int // rows removed by replace-run mode (net of re-inserts)
}

// Read loads a table, returning its header and rows. A missing file yields
// an empty header and no rows. Short records are padded with empty cells.
func Read(path string) ([]string, []types.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, path string) ([]string, []types.Row, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	buf = bytes.TrimPrefix(buf, utf8BOM)
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil, nil
	}

	cr := csv.NewReader(bytes.NewReader(buf))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header := records[0]
	rows := make([]types.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(types.Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// Write atomically replaces the table at path with the given rows, in the
// given column order, UTF-8 with BOM. It does not take the table lock; use
// it only for tables with a single writer (manifests, issue tables) or from
// inside an Upsert.
func Write(path string, columns []string, rows []types.Row) error {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	cw := csv.NewWriter(&buf)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	rec := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			rec[i] = row[col]
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return atomicio.WriteFile(path, buf.Bytes())
}

// keyOf builds the composite key tuple for a row.
func keyOf(row types.Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = row[k]
	}
	return strings.Join(parts, "\x1f")
}

// rowsEqual compares two rows over the given columns.
func rowsEqual(a, b types.Row, columns []string) bool {
	for _, col := range columns {
		if a[col] != b[col] {
			return false
		}
	}
	return true
}

// Upsert merges incoming rows into the table at path, keyed by the given
// key columns, under the table's advisory lock.
//
// Semantics:
//   - incoming rows are deduplicated last-wins per key tuple
//   - existing rows whose merged content is unchanged stay in place
//   - changed and new rows are appended in incoming order, changed rows
//     being removed from their original position
//   - existing columns keep their original order; new columns are appended
//   - the rewrite is atomic (temp file + rename) within the lock
func Upsert(path string, incoming []types.Row, keys []string, opts Options) (Result, error) {
	var res Result
	if len(keys) == 0 {
		return res, fmt.Errorf("upsert requires at least one key column")
	}

	timeout := opts.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}
	unlock, err := atomicio.Lock(path+".lock", timeout)
	if err != nil {
		return res, err
	}
	defer unlock()

	header, existing, err := Read(path)
	if err != nil {
		return res, err
	}

	columns := mergeColumns(header, opts.Columns, incoming)

	// Replace-run mode: drop every row matching the replace predicate before
	// merging. Dropped rows are remembered so incoming replacements can
	// still be counted as updated or unchanged rather than inserted.
	replaceMode := opts.ReplaceColumn != ""
	replaced := make(map[string]types.Row)
	if replaceMode {
		kept := existing[:0]
		for _, row := range existing {
			if row[opts.ReplaceColumn] == opts.ReplaceValue {
				replaced[keyOf(row, keys)] = row
				continue
			}
			kept = append(kept, row)
		}
		existing = kept
	}

	// Dedupe incoming: first-seen position, last-seen content.
	order := make([]string, 0, len(incoming))
	latest := make(map[string]types.Row, len(incoming))
	for _, row := range incoming {
		k := keyOf(row, keys)
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = row
	}

	byKey := make(map[string]types.Row, len(existing))
	for _, row := range existing {
		byKey[keyOf(row, keys)] = row
	}

	preserve := make(map[string]bool, len(opts.PreserveColumns))
	for _, c := range opts.PreserveColumns {
		preserve[c] = true
	}
	owned := make(map[string]bool, len(opts.OwnedColumns))
	for _, c := range opts.OwnedColumns {
		owned[c] = true
	}

	merged := make(map[string]types.Row, len(latest))
	unchanged := make(map[string]bool)
	for k, in := range latest {
		old, exists := byKey[k]
		if !exists {
			old, exists = replaced[k]
		}
		out := in.Clone()
		if exists {
			for _, col := range columns {
				if preserve[col] && old[col] != "" {
					out[col] = old[col]
				} else if opts.FillFromExisting && out[col] == "" && !owned[col] {
					out[col] = old[col]
				}
			}
			if rowsEqual(old, out, columns) {
				unchanged[k] = true
				res.Unchanged++
			} else {
				res.Updated++
			}
		} else {
			res.Inserted++
		}
		merged[k] = out
	}

	final := make([]types.Row, 0, len(existing)+len(order))
	for _, row := range existing {
		k := keyOf(row, keys)
		if m, hit := merged[k]; hit {
			if unchanged[k] {
				final = append(final, m)
			}
			// Changed rows are re-appended below in incoming order.
			continue
		}
		final = append(final, row)
	}
	for _, k := range order {
		// In replace mode the original row is already gone, so even
		// unchanged rows must be re-inserted.
		if unchanged[k] && !replaceMode {
			continue
		}
		final = append(final, merged[k])
	}

	// Net deletions: replaced rows with no incoming replacement.
	for k := range replaced {
		if _, hit := merged[k]; !hit {
			res.Deleted++
		}
	}

	if err := Write(path, columns, final); err != nil {
		return res, err
	}
	return res, nil
}

// mergeColumns returns the output schema: the existing header first, in its
// original order, then any new columns in schema order, then any stragglers
// present only in the incoming rows.
func mergeColumns(header, schema []string, incoming []types.Row) []string {
	seen := make(map[string]bool, len(header))
	out := make([]string, 0, len(header)+len(schema))
	for _, c := range header {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range schema {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	extra := make(map[string]bool)
	for _, row := range incoming {
		for c := range row {
			if !seen[c] && !extra[c] {
				extra[c] = true
			}
		}
	}
	if len(extra) > 0 {
		cols := make([]string, 0, len(extra))
		for c := range extra {
			cols = append(cols, c)
		}
		// Deterministic order for columns declared nowhere.
		sort.Strings(cols)
		out = append(out, cols...)
	}
	return out
}
