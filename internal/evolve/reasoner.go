package evolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Reasoner proposes one bounded configuration change from recent run
// history. Implementations must return exactly one delta per call.
type Reasoner interface {
	ProposeChange(ctx context.Context, scope string, cur domain.Configuration, history []domain.Run) (domain.ConfigDelta, string, error)
}

// JSONGenerator is the slice of a provider the reasoner needs: one
// free-form JSON completion per prompt.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// ModelReasoner asks a hosted model for the next configuration delta.
type ModelReasoner struct {
	Gen JSONGenerator
}

type reasonerReply struct {
	Delta     domain.ConfigDelta `json:"delta"`
	Reasoning string             `json:"reasoning"`
}

func (r *ModelReasoner) ProposeChange(ctx context.Context, scope string, cur domain.Configuration, history []domain.Run) (domain.ConfigDelta, string, error) {
	raw, err := r.Gen.GenerateJSON(ctx, reasonerPrompt(scope, cur, history))
	if err != nil {
		return domain.ConfigDelta{}, "", err
	}

	var reply reasonerReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return domain.ConfigDelta{}, "", domain.WrapEngineError(
			domain.ErrUnparseableResponse.Code, "reasoner reply", err)
	}
	return reply.Delta, reply.Reasoning, nil
}

func reasonerPrompt(scope string, cur domain.Configuration, history []domain.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You tune a task-solving engine's parameters for the %q task type.\n", scope)

	params, _ := json.Marshal(cur.Params)
	fmt.Fprintf(&b, "Current configuration (version %s): %s\n\n", cur.Version, params)

	b.WriteString("Recent runs, newest first:\n")
	for _, r := range history {
		outcome := "FAILED " + string(r.FailReason)
		if r.Passed {
			outcome = "passed"
		}
		fmt.Fprintf(&b, "- task=%s %s turns=%d tokens=%d score=%d\n",
			r.TaskID, outcome, r.Turns, r.TokensUsed, r.Score)
	}

	b.WriteString(`
Propose exactly ONE small change likely to improve the score.
Respond with strict JSON: {"delta": {<one or two changed fields>}, "reasoning": "<one sentence>"}.
Fields: max_turns, max_retry_after_failed_verify, sample_width, temperature_base, temperature_step, use_skills, hint, rejection_streak_widen.
Changes must be incremental; large jumps are rejected by guardrails.
`)
	return b.String()
}
