package orch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/ledger"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/store"
)

// scriptedProvider replays a fixed action sequence, repeating the last
// action once the script runs out.
type scriptedProvider struct {
	actions []provider.RawAction
	idx     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Propose(ctx context.Context, prompt string, params provider.Params) (provider.Proposal, error) {
	a := p.actions[p.idx]
	if p.idx < len(p.actions)-1 {
		p.idx++
	}
	return provider.Proposal{Action: a, Tokens: 100}, nil
}

// scriptedVerifier replays verification results in order, repeating the
// last one.
type scriptedVerifier struct {
	results []domain.VerificationResult
	errs    []error
	idx     int
	calls   int

	provs    []domain.Provenance
	commands []string
}

func (v *scriptedVerifier) Verify(ctx context.Context, workspace string, task domain.TaskDefinition, prov domain.Provenance) (domain.VerificationResult, error) {
	v.calls++
	v.provs = append(v.provs, prov)
	v.commands = append(v.commands, task.VerifyCommand)
	i := v.idx
	if v.idx < len(v.results)-1 {
		v.idx++
	}
	if v.errs != nil && v.errs[i] != nil {
		return domain.VerificationResult{}, v.errs[i]
	}
	return v.results[i], nil
}

func act(name string, kv ...string) provider.RawAction {
	args := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		args[kv[i]] = kv[i+1]
	}
	return provider.RawAction{Name: name, Args: args}
}

func failing(progress float64, passing, total int) domain.VerificationResult {
	return domain.VerificationResult{
		Progress: progress, TestsPassing: passing, TestsTotal: total,
		Provenance: domain.ProvenanceProtected,
		Feedback:   "checks failing",
	}
}

func passing() domain.VerificationResult {
	return domain.VerificationResult{
		Passed: true, Progress: 1.0, TestsPassing: 4, TestsTotal: 4,
		Provenance: domain.ProvenanceProtected,
	}
}

func testTask() domain.TaskDefinition {
	return domain.TaskDefinition{
		ID: "date-matcher", Category: "regex",
		Description:   "write a 4-digit-year date matcher",
		VerifyCommand: "pytest -q",
	}
}

func testParams() domain.ConfigParams {
	p := domain.DefaultParams()
	p.MaxTurns = 10
	return p
}

func TestRun_DoneGatePasses(t *testing.T) {
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("write_file", "path", "solution.py", "content", "import re\n"),
			act("done"),
		}},
		Verifier: &scriptedVerifier{results: []domain.VerificationResult{passing()}},
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Errorf("run should pass: %+v", run)
	}
	if run.Turns != 2 {
		t.Errorf("Turns = %d, want 2", run.Turns)
	}
	if run.FailReason != domain.FailNone {
		t.Errorf("FailReason = %q", run.FailReason)
	}
	if run.Score != domain.Score(true, 2, run.TokensUsed) {
		t.Errorf("Score = %d inconsistent with formula", run.Score)
	}
}

func TestRun_VerificationGatingNeverBypassed(t *testing.T) {
	// The actor claims done every turn; the verifier always fails.
	// With maxRetryAfterFailedVerify=2 the third failed gate ends the
	// run as verify-exhausted, never as a pass.
	v := &scriptedVerifier{results: []domain.VerificationResult{failing(0.5, 2, 4)}}
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{act("done")}},
		Verifier: v,
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Passed {
		t.Fatal("failed verification must never produce a passing run")
	}
	if run.FailReason != domain.FailVerifyExhausted {
		t.Errorf("FailReason = %q, want verify-exhausted", run.FailReason)
	}
	if v.calls != 3 {
		t.Errorf("verifier calls = %d, want 3 (initial + 2 retries)", v.calls)
	}
	if run.Progress != 0.5 {
		t.Errorf("Progress = %f, want best observed 0.5", run.Progress)
	}
}

func TestRun_RepeatHeuristicTriggersGate(t *testing.T) {
	// The same write repeated three times is a completion signal even
	// without an explicit done.
	v := &scriptedVerifier{results: []domain.VerificationResult{passing()}}
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("write_file", "path", "a.py", "content", "x"),
		}},
		Verifier: v,
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Errorf("run should pass through the gate: %+v", run)
	}
	if run.Turns != 3 {
		t.Errorf("Turns = %d, want gate on the third identical action", run.Turns)
	}
	if v.calls != 1 {
		t.Errorf("verifier calls = %d, want 1", v.calls)
	}
}

func TestRun_TurnBudgetExhausted(t *testing.T) {
	params := testParams()
	params.MaxTurns = 4
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("read_file", "path", "a.py"),
			act("read_file", "path", "b.py"),
			act("read_file", "path", "c.py"),
			act("read_file", "path", "d.py"),
			act("read_file", "path", "e.py"),
		}},
		Verifier: &scriptedVerifier{results: []domain.VerificationResult{passing()}},
	}

	run, err := e.Run(context.Background(), testTask(), params, t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Passed {
		t.Error("budget exhaustion must not pass")
	}
	if run.FailReason != domain.FailTurnBudget {
		t.Errorf("FailReason = %q, want turn-budget-exhausted", run.FailReason)
	}
	if run.Turns != 4 {
		t.Errorf("Turns = %d, want 4", run.Turns)
	}
}

func TestRun_SandboxFatalStopsRun(t *testing.T) {
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{act("done")}},
		Verifier: &scriptedVerifier{
			results: []domain.VerificationResult{{}},
			errs:    []error{domain.ErrSandboxUnavailable},
		},
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.FailReason != domain.FailSandboxFatal {
		t.Errorf("FailReason = %q, want sandbox-fatal", run.FailReason)
	}
}

func TestRun_BrokenVerifierDoesNotBurnRetries(t *testing.T) {
	// First gate: verifier runs nothing (TestsTotal=0). That is an
	// environment failure, not a logic failure, and must not count
	// against the verify-retry budget.
	broken := domain.VerificationResult{TestsTotal: 0, Provenance: domain.ProvenanceProtected}
	v := &scriptedVerifier{results: []domain.VerificationResult{broken, passing()}}
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("done"),
			act("write_file", "path", "a.py", "content", "y"),
			act("done"),
		}},
		Verifier: v,
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Errorf("run should recover and pass: %+v", run)
	}
	if v.calls != 2 {
		t.Errorf("verifier calls = %d, want 2", v.calls)
	}
}

func TestRun_UnknownToolIsRejectedNotFatal(t *testing.T) {
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("summon_demon"),
			act("done"),
		}},
		Verifier: &scriptedVerifier{results: []domain.VerificationResult{passing()}},
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Errorf("rejection must not sink the run: %+v", run)
	}
	if run.Turns != 2 {
		t.Errorf("Turns = %d, want 2", run.Turns)
	}
}

// failingOnceProvider fails its first proposal, then scripts done.
type failingOnceProvider struct {
	failed bool
}

func (p *failingOnceProvider) Name() string { return "flaky" }
func (p *failingOnceProvider) Propose(ctx context.Context, prompt string, params provider.Params) (provider.Proposal, error) {
	if !p.failed {
		p.failed = true
		return provider.Proposal{}, errors.New("temporarily unavailable")
	}
	return provider.Proposal{Action: act("done"), Tokens: 50}, nil
}

func TestRun_ProviderFailureIsStepFailure(t *testing.T) {
	e := &Engine{
		Provider: &failingOnceProvider{},
		Verifier: &scriptedVerifier{results: []domain.VerificationResult{passing()}},
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Errorf("provider hiccup must cost a step, not the run: %+v", run)
	}
	if run.Turns != 2 {
		t.Errorf("Turns = %d, want 2", run.Turns)
	}
}

func TestRun_SelfCheckRunsActorCommandWithSelfProvenance(t *testing.T) {
	selfRes := domain.VerificationResult{
		Progress: 0.5, TestsPassing: 1, TestsTotal: 2,
		FailingNames: []string{"my_checks.py::test_b"},
		Provenance:   domain.ProvenanceSelf,
		Feedback:     "1 of 2 checks failing",
		Detail: &domain.FailureDetailSet{Failures: []domain.FailureDetail{
			{Name: "my_checks.py::test_b", Message: "AssertionError", Expected: "2", Actual: "3"},
		}},
	}
	v := &scriptedVerifier{results: []domain.VerificationResult{selfRes, passing()}}
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("verify_progress", "command", "pytest -q my_checks.py"),
			act("write_file", "path", "solution.py", "content", "import re\n"),
			act("done"),
		}},
		Verifier: v,
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed || run.Turns != 3 {
		t.Errorf("run = %+v, want pass on turn 3", run)
	}
	if v.calls != 2 {
		t.Fatalf("verifier calls = %d, want 2", v.calls)
	}
	if v.provs[0] != domain.ProvenanceSelf || v.commands[0] != "pytest -q my_checks.py" {
		t.Errorf("self check ran as (%s, %q)", v.provs[0], v.commands[0])
	}
	if v.provs[1] != domain.ProvenanceProtected || v.commands[1] != "pytest -q" {
		t.Errorf("completion gate ran as (%s, %q)", v.provs[1], v.commands[1])
	}
	if fb := selfRes.PromptFeedback().String(); !strings.Contains(fb, "expected 2, got 3") {
		t.Errorf("self-check feedback should carry full detail: %q", fb)
	}
}

func TestRun_SelfCheckPassDoesNotCompleteRun(t *testing.T) {
	selfPass := domain.VerificationResult{
		Passed: true, Progress: 1.0, TestsPassing: 2, TestsTotal: 2,
		Provenance: domain.ProvenanceSelf,
	}
	v := &scriptedVerifier{results: []domain.VerificationResult{selfPass, failing(0.5, 1, 2)}}
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("verify_progress", "command", "pytest -q my_checks.py"),
			act("done"),
		}},
		Verifier: v,
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Passed {
		t.Fatal("passing self-authored checks must not complete the run")
	}
	if run.FailReason != domain.FailVerifyExhausted {
		t.Errorf("FailReason = %q, want verify-exhausted", run.FailReason)
	}
	if run.Progress != 0.5 {
		t.Errorf("Progress = %f; self-check progress must not count", run.Progress)
	}
}

func TestRun_EndToEndScenario(t *testing.T) {
	// A date-matcher attempt: stalled progress at 0.4 on two probes
	// (different actions, so the repeat heuristic stays quiet), then
	// full pass on turn five. The run persists and the best-config
	// pointer updates.
	e := &Engine{
		Provider: &scriptedProvider{actions: []provider.RawAction{
			act("write_file", "path", "matcher.py", "content", "import re\n"),
			act("verify_progress"),
			act("write_file", "path", "matcher.py", "content", "import re\npattern = r'\\d{4}'\n"),
			act("verify_progress"),
			act("verify_progress"),
		}},
		Verifier: &scriptedVerifier{results: []domain.VerificationResult{
			failing(0.4, 2, 5),
			failing(0.4, 2, 5),
			passing(),
		}},
	}

	run, err := e.Run(context.Background(), testTask(), testParams(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Passed {
		t.Fatalf("run should pass: %+v", run)
	}
	if run.Turns != 5 {
		t.Errorf("Turns = %d, want 5", run.Turns)
	}
	if run.Progress != 1.0 {
		t.Errorf("Progress = %f, want 1.0", run.Progress)
	}
	wantScore := domain.Score(true, 5, run.TokensUsed)
	if run.Score != wantScore {
		t.Errorf("Score = %d, want %d", run.Score, wantScore)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	cfg, err := s.CurrentConfig(ctx, testTask().Scope())
	if err != nil {
		t.Fatalf("CurrentConfig: %v", err)
	}
	run.ConfigID = cfg.ID
	saved, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	improved, err := s.UpdateBestIfBetter(ctx, testTask().Scope(), *saved)
	if err != nil {
		t.Fatalf("UpdateBestIfBetter: %v", err)
	}
	if !improved {
		t.Error("first recorded run must become the scope best")
	}
}

func TestPlanWithBudgets_ScalesWeightsToTurnBudget(t *testing.T) {
	subs := planWithBudgets(testTask(), 10)
	sum := 0
	for _, s := range subs {
		if s.TurnBudget < 1 {
			t.Errorf("stage %d budget = %d, want >= 1", s.ID, s.TurnBudget)
		}
		sum += s.TurnBudget
	}
	if sum != 10 {
		t.Errorf("budgets sum to %d, want the full turn budget 10", sum)
	}
	if subs[0].TurnBudget >= subs[1].TurnBudget {
		t.Errorf("budgets = %+v; implementation stage should get more turns than reading", subs)
	}

	// A tiny budget still gives every stage a turn.
	for _, s := range planWithBudgets(testTask(), 1) {
		if s.TurnBudget < 1 {
			t.Errorf("stage %d budget = %d with maxTurns 1", s.ID, s.TurnBudget)
		}
	}
}

func TestPromptIsBoundedByRunLength(t *testing.T) {
	task := testTask()
	task.Description = strings.Repeat("very long description ", 500)
	st := &runState{
		phase:    PhaseExecuting,
		subtasks: planWithBudgets(task, 30),
		led:      ledger.New(),
	}

	short := len(buildPrompt(task, st.subtask(), st, domain.DefaultParams(), BudgetContinue))
	for i := 0; i < 200; i++ {
		st.led.Record(ledger.Step{Tool: "run_command", Command: strings.Repeat("x", 500), ExitCode: 1})
	}
	long := len(buildPrompt(task, st.subtask(), st, domain.DefaultParams(), BudgetContinue))

	// The ledger window and caps keep growth bounded regardless of
	// how many steps have run.
	if long > short+3*150 {
		t.Errorf("prompt grew from %d to %d after 200 steps", short, long)
	}
}
