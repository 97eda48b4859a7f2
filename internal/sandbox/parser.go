package sandbox

import (
	"regexp"
	"strconv"
	"strings"
)

// outputMarker separates setup noise (toolchain installs, container
// chatter) from verification output. Only text after the last marker
// is parsed.
const outputMarker = "===VERIFY-OUTPUT==="

var (
	// "Verification: PASSED (12/12 tests)" summary form. When present
	// it takes precedence over raw pytest counts.
	summaryRe = regexp.MustCompile(`Verification:\s+(PASSED|FAILED)\s+\((\d+)/(\d+)\s+tests?\)`)

	passedRe = regexp.MustCompile(`(\d+) passed`)
	failedRe = regexp.MustCompile(`(\d+) failed`)

	// "FAILED tests/test_x.py::test_name - AssertionError: ..." lines.
	failLineRe = regexp.MustCompile(`(?m)^FAILED\s+(\S+?)(?:\s+-\s+(.*))?$`)
)

// Counts is the raw parse of a verification run's output.
type Counts struct {
	Passing int
	Total   int
	// Names of failing checks, in output order.
	FailingNames []string
	// Messages holds the per-failure message text keyed by name. Only
	// the runner may surface these, and only for self provenance.
	Messages map[string]string
}

// ParseOutput extracts test counts from verifier output. Output before
// the last marker is discarded. If no counts are parseable the result
// has Total 0, which callers treat as the verifier itself failing to
// run rather than checks failing.
func ParseOutput(out string) Counts {
	out = afterLastMarker(out)
	c := Counts{Messages: map[string]string{}}

	if m := summaryRe.FindStringSubmatch(out); m != nil {
		c.Passing, _ = strconv.Atoi(m[2])
		c.Total, _ = strconv.Atoi(m[3])
	} else {
		passed := 0
		failed := 0
		found := false
		if m := passedRe.FindStringSubmatch(out); m != nil {
			passed, _ = strconv.Atoi(m[1])
			found = true
		}
		if m := failedRe.FindStringSubmatch(out); m != nil {
			failed, _ = strconv.Atoi(m[1])
			found = true
		}
		if found {
			c.Passing = passed
			c.Total = passed + failed
		}
	}

	for _, m := range failLineRe.FindAllStringSubmatch(out, -1) {
		name := m[1]
		c.FailingNames = append(c.FailingNames, name)
		if m[2] != "" {
			c.Messages[name] = m[2]
		}
	}
	return c
}

func afterLastMarker(out string) string {
	if i := strings.LastIndex(out, outputMarker); i >= 0 {
		return out[i+len(outputMarker):]
	}
	return out
}
