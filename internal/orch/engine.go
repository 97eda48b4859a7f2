package orch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/hillclimber-engine/internal/decompose"
	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/ledger"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/sampler"
)

// repeatThreshold is how many identical consecutive actions count as a
// completion signal.
const repeatThreshold = 3

// plateauTurns is how many turns without progress improvement trigger
// the change-approach warning in the prompt.
const plateauTurns = 5

// Verifier scores a workspace against the task's verification command.
type Verifier interface {
	Verify(ctx context.Context, workspace string, task domain.TaskDefinition, prov domain.Provenance) (domain.VerificationResult, error)
}

// Engine drives single task attempts.
type Engine struct {
	Provider provider.Provider
	Verifier Verifier
	Sampler  *sampler.Sampler
	Logger   *slog.Logger

	// RunTimeout bounds a whole attempt's wall clock. Zero disables it.
	RunTimeout time.Duration
}

// runState is the mutable per-run loop state.
type runState struct {
	phase    Phase
	subtasks []domain.Subtask
	subIdx   int
	subTurns int

	led             *ledger.Ledger
	lastObservation string
	lastFeedback    domain.PromptFeedback

	repeatSig   string
	repeatCount int
	verifyFails int

	bestProgress float64
	sinceImprove int

	turns  int
	tokens int64
}

func (s *runState) subtask() domain.Subtask {
	return s.subtasks[s.subIdx]
}

// advanceSubtask moves to the next subtask once the current one's turn
// budget is consumed. The last subtask absorbs any remaining turns.
func (s *runState) advanceSubtask() {
	s.subTurns++
	if s.subIdx < len(s.subtasks)-1 && s.subTurns >= s.subtasks[s.subIdx].TurnBudget {
		s.subIdx++
		s.subTurns = 0
	}
}

// improved tracks progress movement for the plateau heuristic.
func (s *runState) observeProgress(p float64) {
	if p > s.bestProgress {
		s.bestProgress = p
		s.sinceImprove = 0
		return
	}
	s.sinceImprove++
}

// Run executes one task attempt under the given parameters and returns
// a fully populated Run record. The returned error is reserved for
// setup problems; every in-loop failure mode terminates through a
// FailReason on the Run instead.
func (e *Engine) Run(ctx context.Context, task domain.TaskDefinition, params domain.ConfigParams, workspace string) (domain.Run, error) {
	start := time.Now()
	if e.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.RunTimeout)
		defer cancel()
	}

	st := &runState{
		phase:    PhasePlanning,
		subtasks: planWithBudgets(task, params.MaxTurns),
		led:      ledger.New(),
	}
	if err := st.transition(PhaseExecuting); err != nil {
		return domain.Run{}, err
	}
	gov := NewTurnGovernor(params.MaxTurns)

	for st.turns < params.MaxTurns {
		if ctx.Err() != nil {
			return e.finish(task, st, start, false, domain.FailTimeout), nil
		}
		st.turns++

		prompt := buildPrompt(task, st.subtask(), st, params, gov.Check(st.turns))
		prop, sampled, err := e.turnAction(ctx, prompt, params, workspace, task)
		st.tokens += prop.Tokens
		if sampled != nil {
			st.tokens += sampled.extraTokens
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(task, st, start, false, domain.FailTimeout), nil
			}
			st.led.Record(ledger.Step{Tool: "propose", Note: stepFailureNote(err)})
			st.advanceSubtask()
			continue
		}

		action := decodeAction(prop.Action)
		sig := signature(action)
		if sig == st.repeatSig {
			st.repeatCount++
		} else {
			st.repeatSig, st.repeatCount = sig, 1
		}
		doneSignal := action.Kind == domain.ActionDone || st.repeatCount >= repeatThreshold

		if doneSignal {
			run, terminal, err := e.gateCompletion(ctx, task, st, params, workspace, sampled, start)
			if err != nil {
				return domain.Run{}, err
			}
			if terminal {
				return run, nil
			}
			st.advanceSubtask()
			continue
		}

		switch action.Kind {
		case domain.ActionUnknown:
			st.led.Record(ledger.Step{
				Tool: action.Name,
				Note: "unknown tool, choose one of the listed tools",
			})
		case domain.ActionVerify:
			// With a command argument the actor runs its own checks:
			// self-generated provenance, so full failure detail flows
			// back. Without one the official suite runs protected.
			selfCheck := sampled == nil && strings.TrimSpace(action.Command) != ""
			var res domain.VerificationResult
			if sampled != nil {
				res = sampled.result
			} else {
				probeTask, prov := task, domain.ProvenanceProtected
				if selfCheck {
					probeTask.VerifyCommand = action.Command
					prov = domain.ProvenanceSelf
				}
				res, err = e.Verifier.Verify(ctx, workspace, probeTask, prov)
				if err != nil {
					if e.Logger != nil {
						e.Logger.Error("sandbox fatal during probe", "task", task.ID, "error", err)
					}
					return e.finish(task, st, start, false, domain.FailSandboxFatal), nil
				}
			}
			st.lastFeedback = res.PromptFeedback()
			if !selfCheck {
				// Self-authored checks are untrusted; only official
				// results move the progress tracker.
				st.observeProgress(res.Progress)
			}
			st.led.Record(ledger.Step{
				Tool:    string(domain.ActionVerify),
				Success: res.Passed,
				Command: action.Command,
				Note:    res.Feedback,
			})
			if res.Passed && !selfCheck {
				_ = st.transition(PhaseAwaitingVerification)
				_ = st.transition(PhaseDone)
				return e.finish(task, st, start, true, domain.FailNone), nil
			}
		default:
			var step ledger.Step
			if sampled != nil {
				// The sampler already applied the winning action to
				// the workspace; record it without re-executing.
				step = sampledStep(action, sampled)
				st.observeProgress(sampled.result.Progress)
				st.lastFeedback = sampled.result.PromptFeedback()
			} else {
				var obs string
				step, obs = executeAction(ctx, workspace, action)
				if obs != "" {
					st.lastObservation = obs
				}
			}
			st.led.Record(step)
		}
		st.advanceSubtask()
	}

	return e.finish(task, st, start, false, domain.FailTurnBudget), nil
}

// gateCompletion runs the verification gate behind every done signal.
// It returns (run, true) when the run terminated and (zero, false)
// when the loop should continue. Fatal sandbox errors terminate the
// run through FailSandboxFatal; the error return is for phase bugs.
func (e *Engine) gateCompletion(ctx context.Context, task domain.TaskDefinition, st *runState, params domain.ConfigParams, workspace string, sampled *sampledTurn, start time.Time) (domain.Run, bool, error) {
	if err := st.transition(PhaseAwaitingVerification); err != nil {
		return domain.Run{}, false, err
	}

	var res domain.VerificationResult
	if sampled != nil {
		res = sampled.result
	} else {
		var err error
		res, err = e.Verifier.Verify(ctx, workspace, task, domain.ProvenanceProtected)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Error("sandbox fatal during completion gate", "task", task.ID, "error", err)
			}
			_ = st.transition(PhaseFailed)
			return e.finish(task, st, start, false, domain.FailSandboxFatal), true, nil
		}
	}

	st.lastFeedback = res.PromptFeedback()

	if res.VerifierBroken() {
		// The environment, not the solution, failed. Recorded but not
		// counted against the verify-retry budget.
		st.led.Record(ledger.Step{Tool: string(domain.ActionVerify), Note: "verifier produced no results"})
		st.repeatSig, st.repeatCount = "", 0
		if err := st.transition(PhaseExecuting); err != nil {
			return domain.Run{}, false, err
		}
		return domain.Run{}, false, nil
	}

	if res.Passed {
		st.led.Record(ledger.Step{Tool: string(domain.ActionVerify), Success: true, Note: "all checks passed"})
		st.observeProgress(res.Progress)
		if err := st.transition(PhaseDone); err != nil {
			return domain.Run{}, false, err
		}
		return e.finish(task, st, start, true, domain.FailNone), true, nil
	}

	st.led.Record(ledger.Step{Tool: string(domain.ActionVerify), Note: res.Feedback})
	st.observeProgress(res.Progress)
	st.repeatSig, st.repeatCount = "", 0
	st.verifyFails++
	if st.verifyFails > params.MaxRetryAfterFailedVerify {
		_ = st.transition(PhaseFailed)
		return e.finish(task, st, start, false, domain.FailVerifyExhausted), true, nil
	}

	if err := st.transition(PhaseRetrying); err != nil {
		return domain.Run{}, false, err
	}
	if err := st.transition(PhaseExecuting); err != nil {
		return domain.Run{}, false, err
	}
	return domain.Run{}, false, nil
}

// sampledTurn carries the outcome of a sampler round: the winning
// action is already applied and verified.
type sampledTurn struct {
	result      domain.VerificationResult
	extraTokens int64
}

// turnAction obtains this turn's action, either directly from the
// provider or through a sampling round when the width exceeds one.
func (e *Engine) turnAction(ctx context.Context, prompt string, params domain.ConfigParams, workspace string, task domain.TaskDefinition) (provider.Proposal, *sampledTurn, error) {
	if params.SampleWidth <= 1 || e.Sampler == nil {
		prop, err := e.Provider.Propose(ctx, prompt, provider.Params{Temperature: params.TemperatureBase})
		return prop, nil, err
	}

	win, err := e.Sampler.Round(ctx, sampler.Request{
		Workspace: workspace,
		Width:     params.SampleWidth,
		TempBase:  params.TemperatureBase,
		TempStep:  params.TemperatureStep,
		Generate: func(ctx context.Context, p provider.Params) (provider.Proposal, error) {
			return e.Provider.Propose(ctx, prompt, p)
		},
		Apply: func(ctx context.Context, candidateWS string, prop provider.Proposal) error {
			a := decodeAction(prop.Action)
			switch a.Kind {
			case domain.ActionReadFile, domain.ActionWriteFile, domain.ActionRunCommand:
				step, _ := executeAction(ctx, candidateWS, a)
				if !step.Success && step.Note != "" {
					return domain.NewEngineError(domain.ErrActionRejected.Code, step.Note)
				}
			}
			return nil
		},
		Verify: func(ctx context.Context, candidateWS string) (domain.VerificationResult, error) {
			return e.Verifier.Verify(ctx, candidateWS, task, domain.ProvenanceProtected)
		},
	})
	if err != nil {
		return provider.Proposal{Tokens: win.TokensTotal}, nil, err
	}
	extra := win.TokensTotal - win.Proposal.Tokens
	return win.Proposal, &sampledTurn{result: win.Result, extraTokens: extra}, nil
}

// finish assembles the Run record from terminal state.
func (e *Engine) finish(task domain.TaskDefinition, st *runState, start time.Time, passed bool, reason domain.FailReason) domain.Run {
	if !passed && st.phase != PhaseFailed {
		_ = st.transition(PhaseFailed)
	}
	run := domain.Run{
		RunID:      uuid.NewString(),
		TaskID:     task.ID,
		Passed:     passed,
		Progress:   st.bestProgress,
		Turns:      st.turns,
		DurationMS: time.Since(start).Milliseconds(),
		TokensUsed: st.tokens,
		FailReason: reason,
		Score:      domain.Score(passed, st.turns, st.tokens),
		CreatedAt:  time.Now().Unix(),
	}
	if passed {
		run.Progress = 1.0
	}
	if e.Logger != nil {
		e.Logger.Info("run finished",
			"run_id", run.RunID, "task", task.ID, "passed", passed,
			"turns", run.Turns, "tokens", run.TokensUsed,
			"reason", string(reason), "score", run.Score)
	}
	return run
}

// planWithBudgets decomposes the task and scales the template's stage
// weights to the configured turn budget. Every stage gets at least one
// turn; the last stage absorbs the rounding remainder.
func planWithBudgets(task domain.TaskDefinition, maxTurns int) []domain.Subtask {
	subs := decompose.Plan(task)
	total := 0
	for _, s := range subs {
		total += s.TurnBudget
	}
	if total < 1 {
		total = len(subs)
	}
	assigned := 0
	for i := range subs {
		b := maxTurns * subs[i].TurnBudget / total
		if b < 1 {
			b = 1
		}
		subs[i].TurnBudget = b
		assigned += b
	}
	if rem := maxTurns - assigned; rem > 0 {
		subs[len(subs)-1].TurnBudget += rem
	}
	return subs
}

func stepFailureNote(err error) string {
	if engineErr, ok := err.(*domain.EngineError); ok {
		return engineErr.Message
	}
	return err.Error()
}

func sampledStep(a domain.Action, s *sampledTurn) ledger.Step {
	return ledger.Step{
		Tool:    string(a.Kind),
		Success: true,
		Path:    a.Path,
		Command: a.Command,
		Bytes:   len(a.Content),
		Note:    s.result.Feedback,
	}
}
