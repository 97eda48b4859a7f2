package evolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

type fakeGen struct {
	reply  string
	err    error
	prompt string
}

func (g *fakeGen) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

func TestModelReasoner_ParsesDelta(t *testing.T) {
	gen := &fakeGen{reply: `{"delta": {"max_turns": 35, "temperature_base": 0.3}, "reasoning": "runs keep exhausting the turn budget"}`}
	r := &ModelReasoner{Gen: gen}

	cur := domain.Configuration{Version: "1.0.2", Params: domain.DefaultParams()}
	history := []domain.Run{
		{TaskID: "date-matcher", Passed: false, FailReason: domain.FailTurnBudget, Turns: 30, TokensUsed: 40000},
	}

	delta, reasoning, err := r.ProposeChange(context.Background(), "regex", cur, history)
	if err != nil {
		t.Fatalf("ProposeChange: %v", err)
	}
	if delta.MaxTurns == nil || *delta.MaxTurns != 35 {
		t.Errorf("MaxTurns = %v, want 35", delta.MaxTurns)
	}
	if delta.TemperatureBase == nil || *delta.TemperatureBase != 0.3 {
		t.Errorf("TemperatureBase = %v, want 0.3", delta.TemperatureBase)
	}
	if delta.SampleWidth != nil {
		t.Errorf("unset fields must stay nil: %+v", delta)
	}
	if reasoning != "runs keep exhausting the turn budget" {
		t.Errorf("reasoning = %q", reasoning)
	}

	for _, want := range []string{`"regex"`, "1.0.2", "date-matcher", "turn-budget-exhausted", "turns=30"} {
		if !strings.Contains(gen.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestModelReasoner_BadJSON(t *testing.T) {
	r := &ModelReasoner{Gen: &fakeGen{reply: "I think you should raise max_turns."}}
	_, _, err := r.ProposeChange(context.Background(), "regex", domain.Configuration{}, nil)

	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != domain.ErrUnparseableResponse.Code {
		t.Fatalf("err = %v, want unparseable-response code", err)
	}
}

func TestModelReasoner_GeneratorError(t *testing.T) {
	genErr := errors.New("backend down")
	r := &ModelReasoner{Gen: &fakeGen{err: genErr}}
	_, _, err := r.ProposeChange(context.Background(), "regex", domain.Configuration{}, nil)
	if !errors.Is(err, genErr) {
		t.Errorf("err = %v, want the generator's error", err)
	}
}
