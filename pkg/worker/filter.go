package worker

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// jobMatcher selects jobs by id: plain substring, glob when the pattern
// contains `*`, or full regular expression with the `re:` prefix.
type jobMatcher struct {
	raw  string
	re   *regexp.Regexp
	glob bool
}

// newJobMatcher compiles a job-id filter. An empty filter matches all jobs.
func newJobMatcher(filter string) (*jobMatcher, error) {
	m := &jobMatcher{raw: filter}
	switch {
	case filter == "":
	case strings.HasPrefix(filter, "re:"):
		re, err := regexp.Compile(strings.TrimPrefix(filter, "re:"))
		if err != nil {
			return nil, fmt.Errorf("invalid job filter regexp: %w", err)
		}
		m.re = re
	case strings.Contains(filter, "*"):
		if _, err := path.Match(filter, "x"); err != nil {
			return nil, fmt.Errorf("invalid job filter glob: %w", err)
		}
		m.glob = true
	}
	return m, nil
}

// match reports whether the job id passes the filter.
func (m *jobMatcher) match(jobID string) bool {
	switch {
	case m.raw == "":
		return true
	case m.re != nil:
		return m.re.MatchString(jobID)
	case m.glob:
		ok, _ := path.Match(m.raw, jobID)
		return ok
	default:
		return strings.Contains(jobID, m.raw)
	}
}
