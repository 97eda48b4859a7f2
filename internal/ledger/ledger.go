// Package ledger records the step history of a single run and renders
// the compact recap fed back into the actor prompt.
package ledger

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// renderWindow is how many trailing steps Render includes.
const renderWindow = 3

// summaryMax caps a single step summary. Longer summaries are cut with
// an ellipsis so one verbose command cannot crowd out the recap.
const summaryMax = 100

// Step is one executed action with enough detail to summarize it.
type Step struct {
	Tool     string
	Success  bool
	Path     string
	Lines    int
	Bytes    int
	Command  string
	ExitCode int
	Note     string
}

// Ledger accumulates steps for one run. It is not safe for concurrent
// use; each run owns exactly one.
type Ledger struct {
	steps []domain.StepRecord
}

func New() *Ledger {
	return &Ledger{}
}

// Record appends a step, deriving a tool-aware one-line summary.
func (l *Ledger) Record(s Step) domain.StepRecord {
	rec := domain.StepRecord{
		Seq:     len(l.steps) + 1,
		Tool:    s.Tool,
		Success: s.Success,
		Summary: summarize(s),
	}
	l.steps = append(l.steps, rec)
	return rec
}

// Len reports how many steps have been recorded.
func (l *Ledger) Len() int {
	return len(l.steps)
}

// History returns a copy of every recorded step in order.
func (l *Ledger) History() []domain.StepRecord {
	out := make([]domain.StepRecord, len(l.steps))
	copy(out, l.steps)
	return out
}

// Render formats the trailing steps for prompt inclusion. An empty
// ledger renders as "(none)" so the prompt never shows a bare header.
func (l *Ledger) Render() string {
	if len(l.steps) == 0 {
		return "(none)"
	}
	start := len(l.steps) - renderWindow
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, rec := range l.steps[start:] {
		mark := "ok"
		if !rec.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", rec.Seq, rec.Tool, rec.Summary, mark)
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarize(s Step) string {
	var sum string
	switch s.Tool {
	case string(domain.ActionReadFile):
		sum = fmt.Sprintf("read %s (%d lines)", s.Path, s.Lines)
	case string(domain.ActionWriteFile):
		sum = fmt.Sprintf("wrote %s (%d bytes)", s.Path, s.Bytes)
	case string(domain.ActionRunCommand):
		sum = fmt.Sprintf("ran %q exit=%d", s.Command, s.ExitCode)
	case string(domain.ActionVerify):
		sum = s.Note
		if sum == "" {
			sum = "verification attempt"
		}
	default:
		sum = s.Note
		if sum == "" {
			sum = s.Tool
		}
	}
	if s.Note != "" && sum != s.Note {
		sum += ": " + s.Note
	}
	return truncate(sum, summaryMax)
}

// truncate cuts on a rune boundary so multibyte text never turns into
// invalid UTF-8 at the cap.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
