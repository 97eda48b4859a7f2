package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropics/hillclimber-engine/internal/config"
	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/orch"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/sampler"
	"github.com/anthropics/hillclimber-engine/internal/sandbox"
)

var runScope string

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run one task under its current configuration",
	Long:  "Runs a single task attempt: the orchestrator works the task in a fresh\nworkspace and the run only counts as passed if sandboxed verification agrees.\nExits non-zero with the failure reason otherwise.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.close()
		return runTask(cmd.Context(), app, args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runScope, "scope", "", "override the configuration scope (defaults to the task category)")
}

func runTask(parent context.Context, app *app, taskID string) error {
	task, err := config.FindTask(app.cfg.TasksDir, taskID)
	if err != nil {
		return err
	}

	scope := task.Scope()
	if runScope != "" {
		scope = runScope
	}
	cfg, err := app.store.CurrentConfig(parent, scope)
	if err != nil {
		return err
	}

	actor, err := buildActor(parent, app.cfg.Actor)
	if err != nil {
		return err
	}

	engine := &orch.Engine{
		Provider:   &provider.Gated{P: actor, Gate: newGate(app.cfg, app.logger)},
		Verifier:   sandbox.NewRunner(sandbox.NewResolver(app.cfg.BaselineImage), app.logger),
		Sampler:    &sampler.Sampler{Logger: app.logger},
		Logger:     app.logger,
		RunTimeout: time.Duration(app.cfg.RunTimeoutSec) * time.Second,
	}

	workspace, err := newWorkspace(app.cfg.Workspace, task)
	if err != nil {
		return err
	}
	defer os.RemoveAll(workspace)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, err := engine.Run(ctx, task, cfg.Params, workspace)
	if err != nil {
		return err
	}
	run.ConfigID = cfg.ID

	if saved, err := app.store.SaveRun(ctx, run); err != nil {
		app.logger.Warn("save run", "error", err)
	} else if _, err := app.store.UpdateBestIfBetter(ctx, scope, *saved); err != nil {
		app.logger.Warn("update best", "error", err)
	}

	printRun(run, cfg)
	if !run.Passed {
		return fmt.Errorf("task %s failed: %s", task.ID, run.FailReason)
	}
	return nil
}

func printRun(run domain.Run, cfg *domain.Configuration) {
	status := "FAILED"
	if run.Passed {
		status = "PASSED"
	}
	fmt.Printf("task %s: %s\n", run.TaskID, status)
	fmt.Printf("  config   %s (%s)\n", cfg.Version, cfg.Scope)
	fmt.Printf("  score    %d\n", run.Score)
	fmt.Printf("  turns    %d\n", run.Turns)
	fmt.Printf("  tokens   %d\n", run.TokensUsed)
	fmt.Printf("  duration %s\n", time.Duration(run.DurationMS)*time.Millisecond)
	if run.FailReason != domain.FailNone {
		fmt.Printf("  reason   %s\n", run.FailReason)
	}
}

// newWorkspace creates a fresh per-run directory, seeded from the
// task's workspace template when it has one.
func newWorkspace(root string, task domain.TaskDefinition) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, task.ID+"-*")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	if task.WorkspaceSeed != "" {
		if err := sandbox.CopyTree(task.WorkspaceSeed, dir); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}
