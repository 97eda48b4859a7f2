package orch

// BudgetAction is the governor's verdict on the current turn budget.
type BudgetAction int

const (
	BudgetContinue BudgetAction = iota
	BudgetWarn
	BudgetHalt
)

// TurnGovernor tracks turn budget consumption for one run.
type TurnGovernor struct {
	Cap int
	// WarnRatio is the fraction of budget at which the prompt starts
	// carrying a wrap-up warning (default 0.8).
	WarnRatio float64
}

func NewTurnGovernor(cap int) *TurnGovernor {
	return &TurnGovernor{Cap: cap, WarnRatio: 0.8}
}

// Check evaluates the turn counter against the budget.
func (g *TurnGovernor) Check(turns int) BudgetAction {
	if g.Cap <= 0 {
		return BudgetContinue
	}
	ratio := float64(turns) / float64(g.Cap)
	if ratio >= 1.0 {
		return BudgetHalt
	}
	if ratio >= g.WarnRatio {
		return BudgetWarn
	}
	return BudgetContinue
}

// Remaining reports the turns left in the budget.
func (g *TurnGovernor) Remaining(turns int) int {
	r := g.Cap - turns
	if r < 0 {
		return 0
	}
	return r
}
