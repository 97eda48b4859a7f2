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
	"github.com/anthropics/hillclimber-engine/internal/evolve"
	"github.com/anthropics/hillclimber-engine/internal/orch"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/sampler"
	"github.com/anthropics/hillclimber-engine/internal/sandbox"
)

var (
	evolveMaxIters int
	evolveInterval time.Duration
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run the configuration evolution loop over all tasks",
	Long:  "Cycles through the task suite: each iteration runs one task under its scope's\ncurrent configuration, scores the outcome, and asks the reasoner for one\nguarded configuration change. Ctrl-C stops after the current iteration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.close()
		return runEvolve(cmd.Context(), app)
	},
}

func init() {
	evolveCmd.Flags().IntVar(&evolveMaxIters, "max-iterations", 20, "total evolution iterations across all tasks")
	evolveCmd.Flags().DurationVar(&evolveInterval, "sleep-interval", 2*time.Second, "pause between iterations")
}

func runEvolve(parent context.Context, app *app) error {
	tasks, err := config.LoadTasks(app.cfg.TasksDir)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks found under %s", app.cfg.TasksDir)
	}

	actor, err := buildActor(parent, app.cfg.Actor)
	if err != nil {
		return err
	}
	reasoner, err := buildReasoner(parent, app.cfg.Reasoner)
	if err != nil {
		return err
	}

	gate := newGate(app.cfg, app.logger)
	engine := &orch.Engine{
		Provider:   &provider.Gated{P: actor, Gate: gate},
		Verifier:   sandbox.NewRunner(sandbox.NewResolver(app.cfg.BaselineImage), app.logger),
		Sampler:    &sampler.Sampler{Logger: app.logger},
		Logger:     app.logger,
		RunTimeout: time.Duration(app.cfg.RunTimeoutSec) * time.Second,
	}

	ctrl := evolve.NewController(app.store, engine, reasoner, gate, app.logger)
	ctrl.WorkspaceRoot = app.cfg.Workspace

	// Ctrl-C requests a stop; the controller finishes its current
	// iteration before returning.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		app.logger.Info("stop requested, finishing current iteration")
		ctrl.Stop()
	}()

	app.logger.Info("evolution loop starting",
		"tasks", len(tasks), "max_iterations", evolveMaxIters, "interval", evolveInterval)
	return ctrl.Loop(parent, tasks, evolveMaxIters, evolveInterval)
}
