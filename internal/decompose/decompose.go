// Package decompose turns a task definition into an ordered subtask
// plan. Plans are heuristic, keyed on the task category; they guide the
// actor but do not gate completion, which only verification can.
package decompose

import (
	"strings"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// stage is one template step with a relative turn-budget weight. The
// orchestrator scales weights to the configured turn budget.
type stage struct {
	goal   string
	weight int
}

type template struct {
	stages      []stage
	guidance    string
	constraints []string
}

var templates = map[string]template{
	"regex": {
		stages: []stage{
			{"Read the failing tests to extract every pattern the expression must match and reject", 1},
			{"Write the regular expression and the function under test", 2},
			{"Run the verifier and tighten the pattern against any remaining failures", 2},
		},
		guidance: "derive the pattern from the test cases, not from the prose",
		constraints: []string{
			"anchor the pattern unless a test requires substring matches",
			"treat every test case as authoritative over the prose description",
		},
	},
	"parsing": {
		stages: []stage{
			{"Inspect sample inputs and the expected outputs in the tests", 1},
			{"Implement the parser handling the happy path first", 2},
			{"Add the edge cases the tests exercise: empty input, malformed records, boundary values", 2},
			{"Run the verifier and fix remaining failures one at a time", 2},
		},
		guidance: "get one representative input round-tripping before generalizing",
		constraints: []string{
			"never crash on malformed input; return the documented error shape",
		},
	},
	"algorithm": {
		stages: []stage{
			{"Restate the problem from the tests: inputs, outputs, invariants", 1},
			{"Implement a correct solution before a fast one", 2},
			{"Run the verifier; only optimize if a test enforces a bound", 2},
		},
		guidance: "verify your understanding against the smallest test case first",
	},
	"build-fix": {
		stages: []stage{
			{"Run the build or test command to capture the exact failure", 1},
			{"Fix the first reported error only, then re-run", 2},
			{"Repeat until the verifier passes", 2},
		},
		guidance: "work strictly from the newest error output",
		constraints: []string{
			"change the minimum surface needed; do not refactor passing code",
		},
	},
}

var generic = template{
	stages: []stage{
		{"Read the task files and tests to understand what is required", 1},
		{"Implement the change", 2},
		{"Run the verifier and address failures until it passes", 2},
	},
	guidance: "start from the tests; they are the authoritative specification",
}

// Plan produces at least one subtask for any task definition. Unknown
// categories fall back to the generic understand-implement-verify plan.
// TurnBudget holds the stage's relative weight, not an absolute count.
func Plan(task domain.TaskDefinition) []domain.Subtask {
	tpl, ok := templates[normalize(task.Category)]
	if !ok {
		tpl = generic
	}
	subs := make([]domain.Subtask, 0, len(tpl.stages))
	for i, st := range tpl.stages {
		sub := domain.Subtask{
			ID:          i + 1,
			Goal:        st.goal,
			TurnBudget:  st.weight,
			Constraints: tpl.constraints,
		}
		if i == 0 {
			sub.Guidance = tpl.guidance
		}
		subs = append(subs, sub)
	}
	return subs
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
