// Package domain defines the core types for the HillClimber engine.
package domain

import "time"

// GlobalScope is the configuration scope used when no task-type scope applies.
const GlobalScope = "global"

// TaskDefinition describes one solvable task. Immutable after load.
type TaskDefinition struct {
	ID            string
	Description   string
	Category      string // task-type, also the configuration scope
	Difficulty    string
	VerifyCommand string
	ImageSpecPath string // task-scoped INI with image and resource sections
	WorkspaceSeed string // directory copied into the run workspace at start
}

// Scope returns the configuration scope for this task.
func (t TaskDefinition) Scope() string {
	if t.Category == "" {
		return GlobalScope
	}
	return t.Category
}

// Subtask is one ordered step of a decomposition.
type Subtask struct {
	ID          int
	Goal        string
	TurnBudget  int
	Guidance    string
	Constraints []string
}

// StepRecord is one executed action in a run's history.
type StepRecord struct {
	Seq     int
	Tool    string
	Success bool
	Summary string
}

// ActionKind is the closed set of actions the actor may take.
type ActionKind string

const (
	ActionReadFile   ActionKind = "read_file"
	ActionWriteFile  ActionKind = "write_file"
	ActionRunCommand ActionKind = "run_command"
	ActionVerify     ActionKind = "verify_progress"
	ActionDone       ActionKind = "done"
	ActionUnknown    ActionKind = "unknown"
)

// Action is a decoded actor action. Kind is always one of the closed
// variants; for ActionUnknown the raw tool name is kept in Name.
type Action struct {
	Kind    ActionKind
	Name    string
	Path    string
	Content string
	Command string
}

// Provenance marks where a verification result came from, which gates
// what detail may legally be attached to it.
type Provenance string

const (
	// ProvenanceSelf marks checks the engine generated itself; full
	// failure detail may be shown to the actor.
	ProvenanceSelf Provenance = "self"
	// ProvenanceProtected marks the official suite; only pass/fail,
	// counts, failing check names, and generic feedback may surface.
	ProvenanceProtected Provenance = "protected"
)

// FailureDetail is the full record of one failing self-generated check.
// It must never be constructed for protected results.
type FailureDetail struct {
	Name     string
	Expected string
	Actual   string
	Message  string
}

// FailureDetailSet holds self-generated check details. The verifier leaves
// it nil for protected provenance; the information boundary is the type.
type FailureDetailSet struct {
	Failures []FailureDetail
}

// VerificationResult is the boundary-safe outcome of one verifier call.
type VerificationResult struct {
	Passed       bool
	Progress     float64 // fraction of checks passing, 0..1
	TestsPassing int
	TestsTotal   int // 0 means the verifier itself did not run checks
	FailingNames []string
	Feedback     string // generic category feedback only
	ExitCode     int
	Duration     time.Duration
	Sandboxed    bool // false when the local fallback executed the command
	Provenance   Provenance

	// Detail is populated only for ProvenanceSelf.
	Detail *FailureDetailSet
}

// VerifierBroken reports whether the verifier itself failed to run any
// checks, as opposed to running them and some failing.
func (r VerificationResult) VerifierBroken() bool {
	return !r.Passed && r.TestsTotal == 0
}

// ConfigParams is the tunable parameter bag of a Configuration.
type ConfigParams struct {
	MaxTurns                  int     `json:"max_turns"`
	MaxRetryAfterFailedVerify int     `json:"max_retry_after_failed_verify"`
	SampleWidth               int     `json:"sample_width"`
	TemperatureBase           float64 `json:"temperature_base"`
	TemperatureStep           float64 `json:"temperature_step"`
	UseSkills                 bool    `json:"use_skills"`
	Hint                      string  `json:"hint"`
	RejectionStreakWiden      int     `json:"rejection_streak_widen"`
}

// DefaultParams returns the parameter set a new scope starts from.
func DefaultParams() ConfigParams {
	return ConfigParams{
		MaxTurns:                  30,
		MaxRetryAfterFailedVerify: 2,
		SampleWidth:               1,
		TemperatureBase:           0.2,
		TemperatureStep:           0.25,
		UseSkills:                 false,
		Hint:                      "",
		RejectionStreakWiden:      3,
	}
}

// ConfigDelta is a typed, field-optional change against a ConfigParams.
// Nil fields are untouched.
type ConfigDelta struct {
	MaxTurns                  *int     `json:"max_turns,omitempty"`
	MaxRetryAfterFailedVerify *int     `json:"max_retry_after_failed_verify,omitempty"`
	SampleWidth               *int     `json:"sample_width,omitempty"`
	TemperatureBase           *float64 `json:"temperature_base,omitempty"`
	TemperatureStep           *float64 `json:"temperature_step,omitempty"`
	UseSkills                 *bool    `json:"use_skills,omitempty"`
	Hint                      *string  `json:"hint,omitempty"`
	RejectionStreakWiden      *int     `json:"rejection_streak_widen,omitempty"`
}

// Apply returns a copy of p with the delta's set fields applied.
func (d ConfigDelta) Apply(p ConfigParams) ConfigParams {
	if d.MaxTurns != nil {
		p.MaxTurns = *d.MaxTurns
	}
	if d.MaxRetryAfterFailedVerify != nil {
		p.MaxRetryAfterFailedVerify = *d.MaxRetryAfterFailedVerify
	}
	if d.SampleWidth != nil {
		p.SampleWidth = *d.SampleWidth
	}
	if d.TemperatureBase != nil {
		p.TemperatureBase = *d.TemperatureBase
	}
	if d.TemperatureStep != nil {
		p.TemperatureStep = *d.TemperatureStep
	}
	if d.UseSkills != nil {
		p.UseSkills = *d.UseSkills
	}
	if d.Hint != nil {
		p.Hint = *d.Hint
	}
	if d.RejectionStreakWiden != nil {
		p.RejectionStreakWiden = *d.RejectionStreakWiden
	}
	return p
}

// Empty reports whether the delta sets no fields.
func (d ConfigDelta) Empty() bool {
	return d.MaxTurns == nil && d.MaxRetryAfterFailedVerify == nil &&
		d.SampleWidth == nil && d.TemperatureBase == nil &&
		d.TemperatureStep == nil && d.UseSkills == nil &&
		d.Hint == nil && d.RejectionStreakWiden == nil
}

// Configuration is one immutable, versioned parameter set.
type Configuration struct {
	ID        int64
	Scope     string
	Version   string
	Params    ConfigParams
	Hash      string
	Current   bool
	CreatedAt int64
}

// FailReason is the terminal reason code of a failed run.
type FailReason string

const (
	FailNone            FailReason = ""
	FailTurnBudget      FailReason = "turn-budget-exhausted"
	FailTimeout         FailReason = "timeout"
	FailVerifyExhausted FailReason = "verify-exhausted"
	FailSandboxFatal    FailReason = "sandbox-fatal"
)

// Run is one completed orchestrator execution. Append-only.
type Run struct {
	ID         int64
	RunID      string
	ConfigID   int64
	TaskID     string
	Passed     bool
	Progress   float64
	Turns      int
	DurationMS int64
	TokensUsed int64
	FailReason FailReason
	Score      int
	CreatedAt  int64
}

// BestConfigRecord tracks the highest-scoring run per scope.
type BestConfigRecord struct {
	Scope     string
	ConfigID  int64
	RunID     int64
	Score     int
	PassCount int
	TotalRuns int
	UpdatedAt int64
}

// EvolutionChange is one audited configuration proposal, accepted or not.
type EvolutionChange struct {
	ID           int64
	Scope        string
	FromConfigID int64
	ToConfigID   int64 // 0 when rejected
	Delta        ConfigDelta
	Reasoning    string
	Accepted     bool
	RejectReason string
	// ObservedDelta is the score delta measured after the change ran;
	// valid only when ObservedSet is true.
	ObservedDelta int
	ObservedSet   bool
	CreatedAt     int64
}

// Score constants. A passing run always outranks any failing run.
const (
	passBonus       = 1000
	turnBudgetCeil  = 100
	tokenBudgetCeil = 50
)

// Score computes the composite run score: pass bonus plus efficiency terms
// rewarding fewer turns and fewer tokens.
func Score(passed bool, turns int, tokensUsed int64) int {
	s := 0
	if passed {
		s += passBonus
	}
	if t := turnBudgetCeil - turns; t > 0 {
		s += t
	}
	if t := tokenBudgetCeil - int(tokensUsed/1000); t > 0 {
		s += t
	}
	return s
}
