package evolve

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/sandbox"
	"github.com/anthropics/hillclimber-engine/internal/store"
)

// TaskRunner executes one task attempt. The orchestrator engine is the
// production implementation.
type TaskRunner interface {
	Run(ctx context.Context, task domain.TaskDefinition, params domain.ConfigParams, workspace string) (domain.Run, error)
}

// Controller drives the evolution loop. Evolution is best-effort: a
// failed run is scoring data, a failed reasoner call keeps the current
// configuration, and neither stops the loop.
type Controller struct {
	Store    *store.Store
	Runner   TaskRunner
	Reasoner Reasoner
	Gate     *provider.Gate
	Limits   Limits
	Logger   *slog.Logger

	// WorkspaceRoot is where per-run workspaces are created.
	WorkspaceRoot string

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewController(st *store.Store, runner TaskRunner, reasoner Reasoner, gate *provider.Gate, logger *slog.Logger) *Controller {
	return &Controller{
		Store:    st,
		Runner:   runner,
		Reasoner: reasoner,
		Gate:     gate,
		Limits:   DefaultLimits(),
		Logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Step performs one evolution iteration for a task: run it under the
// scope's current configuration, persist and score the outcome, then
// propose, validate, and commit-or-reject one configuration change.
func (c *Controller) Step(ctx context.Context, task domain.TaskDefinition) error {
	scope := task.Scope()
	cfg, err := c.Store.CurrentConfig(ctx, scope)
	if err != nil {
		return err
	}

	ws, err := c.prepareWorkspace(task)
	if err != nil {
		return err
	}
	defer os.RemoveAll(ws)

	run, err := c.Runner.Run(ctx, task, cfg.Params, ws)
	if err != nil {
		return err
	}
	run.ConfigID = cfg.ID

	prevBest, err := c.Store.BestFor(ctx, scope)
	if err != nil {
		return err
	}
	saved, err := c.Store.SaveRun(ctx, run)
	if err != nil {
		return err
	}
	if _, err := c.Store.UpdateBestIfBetter(ctx, scope, *saved); err != nil {
		return err
	}
	c.recordObservedDelta(ctx, scope, prevBest, saved)

	return c.propose(ctx, scope, cfg)
}

// propose asks the reasoner for one delta and validates it. Reasoner
// exhaustion keeps the current configuration; only store failures are
// returned as errors.
func (c *Controller) propose(ctx context.Context, scope string, cfg *domain.Configuration) error {
	history, err := c.Store.Runs.Recent(ctx, c.Store.DB, 10)
	if err != nil {
		return err
	}

	var delta domain.ConfigDelta
	var reasoning string
	err = c.Gate.Do(ctx, "reasoner", func(ctx context.Context) error {
		var perr error
		delta, reasoning, perr = c.Reasoner.ProposeChange(ctx, scope, *cfg, history)
		return perr
	})
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("reasoner unavailable, keeping current configuration",
				"scope", scope, "version", cfg.Version, "error", err)
		}
		return nil
	}

	widen, err := c.stallWiden(ctx, scope, cfg.Params)
	if err != nil {
		return err
	}

	verdict := Check(cfg.Params, delta, c.Limits, widen)
	now := time.Now().Unix()
	if !verdict.Accepted {
		if c.Logger != nil {
			c.Logger.Info("proposal rejected",
				"scope", scope, "reason", verdict.Reason, "reasoning", reasoning)
		}
		_, err := c.Store.AppendChange(ctx, domain.EvolutionChange{
			Scope:        scope,
			FromConfigID: cfg.ID,
			Delta:        delta,
			Reasoning:    reasoning,
			Accepted:     false,
			RejectReason: verdict.Reason,
			CreatedAt:    now,
		})
		return err
	}

	next, err := c.Store.SaveConfig(ctx, cfg, delta.Apply(cfg.Params))
	if err != nil {
		return err
	}
	if err := c.Store.SetCurrent(ctx, scope, next.ID); err != nil {
		return err
	}
	if c.Logger != nil {
		c.Logger.Info("proposal accepted",
			"scope", scope, "from", cfg.Version, "to", next.Version, "reasoning", reasoning)
	}
	_, err = c.Store.AppendChange(ctx, domain.EvolutionChange{
		Scope:        scope,
		FromConfigID: cfg.ID,
		ToConfigID:   next.ID,
		Delta:        delta,
		Reasoning:    reasoning,
		Accepted:     true,
		CreatedAt:    now,
	})
	return err
}

// stallWiden applies the stall policy: while the rejection streak is at
// or above the threshold the per-step delta band doubles. Any accepted
// proposal resets the streak and ends the widening.
func (c *Controller) stallWiden(ctx context.Context, scope string, params domain.ConfigParams) (bool, error) {
	if params.RejectionStreakWiden <= 0 {
		return false, nil
	}
	streak, err := c.Store.Changes.RejectionStreak(ctx, c.Store.DB, scope)
	if err != nil {
		return false, err
	}
	return streak >= params.RejectionStreakWiden, nil
}

// recordObservedDelta backfills the newest accepted-but-unobserved
// change with the score movement this run produced against the prior
// best for the scope.
func (c *Controller) recordObservedDelta(ctx context.Context, scope string, prevBest *domain.BestConfigRecord, run *domain.Run) {
	if prevBest == nil {
		return
	}
	changes, err := c.Store.Changes.RecentForScope(ctx, c.Store.DB, scope, 10)
	if err != nil {
		return
	}
	for _, ch := range changes {
		if !ch.Accepted {
			continue
		}
		if ch.ObservedSet {
			break
		}
		_ = c.Store.Changes.SetObserved(ctx, c.Store.DB, ch.ID, run.Score-prevBest.Score)
		break
	}
}

func (c *Controller) prepareWorkspace(task domain.TaskDefinition) (string, error) {
	ws, err := os.MkdirTemp(c.WorkspaceRoot, "run-*")
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrWorkspaceCopy.Code, "run workspace", err)
	}
	if task.WorkspaceSeed != "" {
		if err := sandbox.CopyTree(task.WorkspaceSeed, ws); err != nil {
			os.RemoveAll(ws)
			return "", err
		}
	}
	return ws, nil
}

// Loop runs Step over the task list round-robin until maxIters
// iterations complete, the context is cancelled, or Stop is called.
// A failing iteration is logged and the loop proceeds. A non-positive
// interval disables the pause between iterations.
func (c *Controller) Loop(ctx context.Context, tasks []domain.TaskDefinition, maxIters int, interval time.Duration) error {
	if len(tasks) == 0 {
		return domain.NewEngineError(domain.ErrConfigInvalid.Code, "evolution loop needs at least one task")
	}
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; i < maxIters; i++ {
		task := tasks[i%len(tasks)]
		if err := c.Step(ctx, task); err != nil {
			if c.Logger != nil {
				c.Logger.Error("evolution step failed", "iteration", i, "task", task.ID, "error", err)
			}
		}
		if i == maxIters-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case <-tick:
		}
	}
	return nil
}

// Stop signals the loop to exit. Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
