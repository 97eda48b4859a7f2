// Package orch drives one task attempt: it executes subtasks in order,
// requests one action per turn from the inference provider, applies it
// to the workspace, and gates every completion signal behind the
// sandboxed verifier.
package orch

import (
	"fmt"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Phase is the orchestrator run state.
type Phase string

const (
	PhasePlanning             Phase = "planning"
	PhaseExecuting            Phase = "executing"
	PhaseAwaitingVerification Phase = "awaiting_verification"
	PhaseRetrying             Phase = "retrying"
	PhaseDone                 Phase = "done"
	PhaseFailed               Phase = "failed"
)

// validTransitions defines the legal phase transitions.
var validTransitions = map[Phase]map[Phase]bool{
	PhasePlanning: {PhaseExecuting: true, PhaseFailed: true},
	PhaseExecuting: {
		PhaseAwaitingVerification: true,
		PhaseExecuting:            true,
		PhaseFailed:               true,
	},
	PhaseAwaitingVerification: {
		PhaseDone:      true,
		PhaseRetrying:  true,
		PhaseExecuting: true,
		PhaseFailed:    true,
	},
	PhaseRetrying: {PhaseExecuting: true, PhaseFailed: true},
}

// IsValidTransition checks if a phase transition is legal.
func IsValidTransition(from, to Phase) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// transition moves the run state to the target phase. An illegal
// transition is a programming bug surfaced as a typed error.
func (s *runState) transition(to Phase) error {
	if !IsValidTransition(s.phase, to) {
		return domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", s.phase, to),
		)
	}
	s.phase = to
	return nil
}
