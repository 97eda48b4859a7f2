// Package cli wires the engine's commands: run a single task, drive the
// evolution loop, or report stored outcomes.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anthropics/hillclimber-engine/internal/config"
	"github.com/anthropics/hillclimber-engine/internal/logging"
	"github.com/anthropics/hillclimber-engine/internal/store"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "hillclimber",
	Short:         "Autonomous task-solving engine with verified completion",
	Long:          "hillclimber runs coding tasks through a provider-driven orchestrator loop,\ngates completion on sandboxed verification, and evolves its own configuration\nbetween runs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration JSON file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd, evolveCmd, statsCmd)
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

// app is the shared wiring every subcommand starts from.
type app struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	closeLog func() error
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// setup resolves the config file, opens the database, and builds the
// logger. Callers must close() the returned app.
func setup() (*app, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("HILLCLIMBER_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("no config found: use --config <path>, set HILLCLIMBER_CONFIG, or place config.json in the cwd")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if debug {
		logging.SetDebug()
	}
	logger, closeLog, err := logging.New(cfg.LogFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{cfg: cfg, store: st, logger: logger, closeLog: closeLog}, nil
}

// discoverConfig looks for config.json next to the executable, then in
// the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}
