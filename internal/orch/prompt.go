package orch

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// descriptionCap bounds how much of the task description each prompt
// carries; the ledger and observation caps bound the rest, so prompt
// size is constant in run length.
const descriptionCap = 1200

// skillHints are short example approaches injected when a scope has
// skills enabled. They are framed as prose so the actor cannot mistake
// them for callable tools.
var skillHints = []string{
	"reading the test file first usually reveals the exact expected behavior",
	"prefer the smallest change that could make the next failing check pass",
	"re-run verification after every substantive edit instead of batching changes",
}

const toolContract = `Respond with exactly one JSON object: {"tool": NAME, "args": {...}}.
Tools: read_file(path), write_file(path, content), run_command(command), verify_progress([command]), done().
verify_progress without arguments runs the official suite and reports a summary.
verify_progress with a command runs your own checks and reports full failure detail;
only the official suite can complete the task.
Call done() only when you believe every check passes; it triggers full verification.`

// buildPrompt assembles the per-turn actor prompt from the subtask
// goal, bounded history, and last observation.
func buildPrompt(task domain.TaskDefinition, sub domain.Subtask, st *runState, params domain.ConfigParams, budget BudgetAction) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n", truncateText(task.Description, descriptionCap))
	fmt.Fprintf(&b, "Current goal (%d of %d): %s\n", sub.ID, len(st.subtasks), sub.Goal)
	if sub.Guidance != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", sub.Guidance)
	}
	for _, c := range sub.Constraints {
		fmt.Fprintf(&b, "Constraint: %s\n", c)
	}
	if params.Hint != "" {
		fmt.Fprintf(&b, "Hint: %s\n", params.Hint)
	}

	b.WriteString("\nRecent steps:\n")
	b.WriteString(st.led.Render())
	b.WriteString("\n")

	if st.lastObservation != "" {
		fmt.Fprintf(&b, "\nLast output:\n%s\n", st.lastObservation)
	}
	if fb := st.lastFeedback.String(); fb != "" {
		fmt.Fprintf(&b, "\nVerification feedback:\n%s\n", fb)
	}

	if params.UseSkills {
		b.WriteString("\nApproaches that often help (descriptions, not callable tools):\n")
		for _, h := range skillHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if budget == BudgetWarn {
		b.WriteString("\nWARNING: the turn budget is nearly exhausted. Converge on a final solution now.\n")
	}
	if st.sinceImprove >= plateauTurns {
		fmt.Fprintf(&b, "\nNo progress in %d turns. Change approach rather than repeating the last one.\n", st.sinceImprove)
	}

	b.WriteString("\n" + toolContract + "\n")
	return b.String()
}

// truncateText cuts on a rune boundary so a multibyte description never
// feeds invalid UTF-8 into the prompt.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
