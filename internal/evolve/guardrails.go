// Package evolve runs the slow loop: score runs, ask a reasoner for
// one bounded configuration change, validate it against guardrails,
// and commit or reject it with an audit trail.
package evolve

import (
	"fmt"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// IntBound limits an integer parameter: hard floor and ceiling plus a
// maximum per-step change magnitude.
type IntBound struct {
	Min, Max, MaxStep int
}

// FloatBound limits a float parameter the same way.
type FloatBound struct {
	Min, Max, MaxStep float64
}

// Limits holds the guardrail bounds for every tunable parameter.
// Floors and ceilings are hard; MaxStep may be widened by the stall
// policy, the bounds never move.
type Limits struct {
	MaxTurns             IntBound
	MaxRetry             IntBound
	SampleWidth          IntBound
	TemperatureBase      FloatBound
	TemperatureStep      FloatBound
	RejectionStreakWiden IntBound
	HintMaxLen           int
}

// DefaultLimits returns the standard guardrail bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxTurns:             IntBound{Min: 5, Max: 100, MaxStep: 10},
		MaxRetry:             IntBound{Min: 0, Max: 5, MaxStep: 1},
		SampleWidth:          IntBound{Min: 1, Max: 8, MaxStep: 2},
		TemperatureBase:      FloatBound{Min: 0.0, Max: 1.5, MaxStep: 0.3},
		TemperatureStep:      FloatBound{Min: 0.0, Max: 0.5, MaxStep: 0.15},
		RejectionStreakWiden: IntBound{Min: 1, Max: 10, MaxStep: 2},
		HintMaxLen:           300,
	}
}

// Verdict is the guardrail decision for one proposed delta.
type Verdict struct {
	Accepted bool
	Reason   string
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Check validates a proposed delta against the current parameters.
// It is a pure function: no store, no reasoner, no clock. When widen
// is set the per-step magnitude band doubles; floors and ceilings are
// unaffected.
func Check(cur domain.ConfigParams, delta domain.ConfigDelta, lim Limits, widen bool) Verdict {
	if delta.Empty() {
		return reject("empty delta proposes no change")
	}
	if delta.Apply(cur) == cur {
		return reject("delta is identical to the current configuration")
	}

	stepScale := 1
	if widen {
		stepScale = 2
	}

	if v := checkInt("max_turns", cur.MaxTurns, delta.MaxTurns, lim.MaxTurns, stepScale); !v.Accepted {
		return v
	}
	if v := checkInt("max_retry_after_failed_verify", cur.MaxRetryAfterFailedVerify, delta.MaxRetryAfterFailedVerify, lim.MaxRetry, stepScale); !v.Accepted {
		return v
	}
	if v := checkInt("sample_width", cur.SampleWidth, delta.SampleWidth, lim.SampleWidth, stepScale); !v.Accepted {
		return v
	}
	if v := checkFloat("temperature_base", cur.TemperatureBase, delta.TemperatureBase, lim.TemperatureBase, stepScale); !v.Accepted {
		return v
	}
	if v := checkFloat("temperature_step", cur.TemperatureStep, delta.TemperatureStep, lim.TemperatureStep, stepScale); !v.Accepted {
		return v
	}
	if v := checkInt("rejection_streak_widen", cur.RejectionStreakWiden, delta.RejectionStreakWiden, lim.RejectionStreakWiden, stepScale); !v.Accepted {
		return v
	}
	if delta.Hint != nil && len(*delta.Hint) > lim.HintMaxLen {
		return reject("hint exceeds %d characters", lim.HintMaxLen)
	}

	return Verdict{Accepted: true}
}

func checkInt(name string, cur int, proposed *int, b IntBound, stepScale int) Verdict {
	if proposed == nil {
		return Verdict{Accepted: true}
	}
	v := *proposed
	if v < b.Min || v > b.Max {
		return reject("%s=%d outside [%d, %d]", name, v, b.Min, b.Max)
	}
	step := v - cur
	if step < 0 {
		step = -step
	}
	if maxStep := b.MaxStep * stepScale; step > maxStep {
		return reject("%s delta %d exceeds per-step bound %d", name, step, maxStep)
	}
	return Verdict{Accepted: true}
}

func checkFloat(name string, cur float64, proposed *float64, b FloatBound, stepScale int) Verdict {
	if proposed == nil {
		return Verdict{Accepted: true}
	}
	v := *proposed
	if v < b.Min || v > b.Max {
		return reject("%s=%.2f outside [%.2f, %.2f]", name, v, b.Min, b.Max)
	}
	step := v - cur
	if step < 0 {
		step = -step
	}
	if maxStep := b.MaxStep * float64(stepScale); step > maxStep+1e-9 {
		return reject("%s delta %.2f exceeds per-step bound %.2f", name, step, maxStep)
	}
	return Verdict{Accepted: true}
}
