package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

func testGate(attempts int) (*Gate, *[]time.Duration) {
	var delays []time.Duration
	g := NewGate(attempts, 100*time.Millisecond, time.Second, nil)
	g.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return g, &delays
}

func TestGate_SucceedsFirstTry(t *testing.T) {
	g, delays := testGate(3)
	calls := 0
	err := g.Do(context.Background(), "propose", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 || len(*delays) != 0 {
		t.Errorf("calls = %d, sleeps = %d; want 1, 0", calls, len(*delays))
	}
}

func TestGate_BackoffDoubles(t *testing.T) {
	g, delays := testGate(4)
	err := g.Do(context.Background(), "propose", func(ctx context.Context) error {
		return errors.New("flaky")
	})

	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != domain.ErrRetryExhausted.Code {
		t.Fatalf("err = %v, want retry-exhausted code", err)
	}
	if !strings.Contains(engineErr.Message, "flaky") {
		t.Errorf("exhausted error should carry the last cause: %v", engineErr)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestGate_CapsDelay(t *testing.T) {
	g, delays := testGate(6)
	g.Max = 300 * time.Millisecond
	_ = g.Do(context.Background(), "propose", func(ctx context.Context) error {
		return errors.New("down")
	})
	for _, d := range *delays {
		if d > 300*time.Millisecond {
			t.Errorf("delay %v exceeds cap", d)
		}
	}
}

func TestGate_ContextCancelStops(t *testing.T) {
	g, _ := testGate(5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := g.Do(ctx, "propose", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	reg := NewRegistry()
	p := fakeProvider{name: "ollama"}
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(p); err != domain.ErrProviderDuplicate {
		t.Errorf("duplicate register err = %v, want ErrProviderDuplicate", err)
	}
	if _, err := reg.Get("missing"); err != domain.ErrProviderUnavailable {
		t.Errorf("Get(missing) err = %v, want ErrProviderUnavailable", err)
	}
	got, err := reg.Get("ollama")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "ollama" {
		t.Errorf("Name = %q", got.Name())
	}
	if list := reg.List(); len(list) != 1 || list[0] != "ollama" {
		t.Errorf("List = %v", list)
	}
}

func TestGated_RetriesThenSucceeds(t *testing.T) {
	g, delays := testGate(3)
	flaky := &flakyProvider{failures: 2}
	gp := &Gated{P: flaky, Gate: g}

	prop, err := gp.Propose(context.Background(), "do the thing", Params{})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if prop.Tokens != 7 {
		t.Errorf("Tokens = %d, want the successful attempt's proposal", prop.Tokens)
	}
	if flaky.calls != 3 || len(*delays) != 2 {
		t.Errorf("calls = %d, sleeps = %d; want 3, 2", flaky.calls, len(*delays))
	}
	if gp.Name() != "flaky" {
		t.Errorf("Name = %q", gp.Name())
	}
}

type fakeProvider struct{ name string }

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Propose(ctx context.Context, prompt string, p Params) (Proposal, error) {
	return Proposal{}, nil
}

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }
func (f *flakyProvider) Propose(ctx context.Context, prompt string, p Params) (Proposal, error) {
	f.calls++
	if f.calls <= f.failures {
		return Proposal{}, errors.New("overloaded")
	}
	return Proposal{Tokens: 7}, nil
}
