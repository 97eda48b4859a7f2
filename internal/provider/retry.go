package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Gate retries calls to one backend with exponential backoff. Backoff
// doubles per attempt starting from Base, capped at Max.
type Gate struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Logger   *slog.Logger

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGate(attempts int, base, max time.Duration, logger *slog.Logger) *Gate {
	if attempts < 1 {
		attempts = 1
	}
	return &Gate{
		Attempts: attempts,
		Base:     base,
		Max:      max,
		Logger:   logger,
		sleep:    sleepCtx,
	}
}

// Do invokes fn up to Attempts times. A nil error from fn returns
// immediately; context cancellation aborts between attempts.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := g.Base
	var last error
	for attempt := 1; attempt <= g.Attempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == g.Attempts {
			break
		}
		if g.Logger != nil {
			g.Logger.Warn("provider call failed, backing off",
				"op", op, "attempt", attempt, "delay", delay, "error", last)
		}
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if g.Max > 0 && delay > g.Max {
			delay = g.Max
		}
	}
	return domain.WrapEngineError(domain.ErrRetryExhausted.Code, op, last)
}

// Gated wraps a Provider so every Propose call runs through a retry
// gate. The orchestrator and the evolution reasoner share this one
// gated-retry mechanism.
type Gated struct {
	P    Provider
	Gate *Gate
}

func (g *Gated) Name() string { return g.P.Name() }

func (g *Gated) Propose(ctx context.Context, prompt string, p Params) (Proposal, error) {
	var out Proposal
	err := g.Gate.Do(ctx, "propose/"+g.P.Name(), func(ctx context.Context) error {
		var err error
		out, err = g.P.Propose(ctx, prompt, p)
		return err
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
