package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// enrichmentEntry is one product record in the enrichment JSON document.
// Product names and descriptions are localized; Italian is preferred with
// English as the fallback.
type enrichmentEntry struct {
	Manufacturer string            `json:"manufacturer"`
	Name         map[string]string `json:"name"`
	Description  map[string]string `json:"description"`
	Categories   []string          `json:"categories"`
}

// enrichmentDoc maps product ids to enrichment records.
type enrichmentDoc map[string]enrichmentEntry

// loadEnrichment reads the enrichment JSON document. A missing file is not
// an error: the catalog simply records source_json_present = False.
func loadEnrichment(path string) (enrichmentDoc, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read enrichment file %s: %w", path, err)
	}
	var doc enrichmentDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse enrichment file %s: %w", path, err)
	}
	return doc, nil
}

// localized picks the preferred locale from a localized field: Italian
// first, English as fallback, then the lexicographically smallest remaining
// locale so the choice is deterministic.
func localized(m map[string]string) string {
	if v := m["it"]; v != "" {
		return v
	}
	if v := m["en"]; v != "" {
		return v
	}
	locales := make([]string, 0, len(m))
	for locale, v := range m {
		if v != "" {
			locales = append(locales, locale)
		}
	}
	if len(locales) == 0 {
		return ""
	}
	sort.Strings(locales)
	return m[locales[0]]
}

// deepestCategories returns up to three segments of the deepest category
// path, split on " > ". Ties keep the first occurrence.
func deepestCategories(paths []string) []string {
	var best []string
	for _, p := range paths {
		segs := strings.Split(p, " > ")
		if len(segs) > len(best) {
			best = segs
		}
	}
	if len(best) > 3 {
		best = best[:3]
	}
	return best
}
