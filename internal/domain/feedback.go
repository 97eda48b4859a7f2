package domain

import (
	"fmt"
	"strings"
)

// PromptFeedback is the only verification-derived text the prompt builder
// accepts. It is constructed exclusively by VerificationResult.Feedback
// rendering, so protected detail can never reach a prompt through it.
type PromptFeedback struct {
	text string
}

// String returns the rendered feedback.
func (f PromptFeedback) String() string {
	return f.text
}

// PromptFeedback renders the result for actor consumption. Failing check
// names are included in both provenance modes; expected/actual detail is
// rendered only for self-generated checks, where Detail is populated.
func (r VerificationResult) PromptFeedback() PromptFeedback {
	var b strings.Builder

	verdict := "FAILED"
	if r.Passed {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "Verification: %s (%d/%d checks)", verdict, r.TestsPassing, r.TestsTotal)

	if r.VerifierBroken() {
		b.WriteString("\nThe verifier did not run any checks; the environment may be broken.")
	}

	if len(r.FailingNames) > 0 {
		fmt.Fprintf(&b, "\nFailing: %s", strings.Join(r.FailingNames, ", "))
	}
	if r.Feedback != "" {
		fmt.Fprintf(&b, "\n%s", r.Feedback)
	}

	if r.Provenance == ProvenanceSelf && r.Detail != nil {
		for _, f := range r.Detail.Failures {
			fmt.Fprintf(&b, "\n- %s: %s", f.Name, f.Message)
			if f.Expected != "" {
				fmt.Fprintf(&b, " (expected %s, got %s)", f.Expected, f.Actual)
			}
		}
	}

	return PromptFeedback{text: b.String()}
}
