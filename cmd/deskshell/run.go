package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/deskshell/shell/config"
	"github.com/tomyedwab/deskshell/shell/diagnostics"
	"github.com/tomyedwab/deskshell/shell/host"
	"github.com/tomyedwab/deskshell/shell/journal"
	"github.com/tomyedwab/deskshell/shell/lifecycle"
	"github.com/tomyedwab/deskshell/shell/paths"
)

func failureCode(cfg *config.Config) int {
	if cfg != nil && cfg.Development() {
		return exitDevelopmentFailure
	}
	return exitProductionFailure
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return &exitError{code: exitProductionFailure, err: err}
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = diagnostics.DefaultLogPath(cfg.App.Name, cfg.Development(), runtime.GOOS)
	}
	sink, err := diagnostics.New(diagnostics.Config{
		File:       logFile,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return &exitError{code: failureCode(cfg), err: err}
	}
	defer sink.Close()

	logger := sink.Logger()
	slog.SetDefault(logger)
	logger.Info("Starting deskshell", "app", cfg.App.Name, "mode", cfg.Mode, "log_file", logFile)

	if err := run(cmd.Context(), cfg, logger); err != nil {
		logger.Error("Shell failed", "error", err)
		return &exitError{code: failureCode(cfg), err: err}
	}
	logger.Info("Shell exited")
	return nil
}

func resolveLayout(cfg *config.Config) (paths.Layout, error) {
	return paths.Resolver{
		AppName:     cfg.App.Name,
		BackendDir:  cfg.Backend.Dir,
		BackendName: cfg.Backend.Name,
		ResourceDir: cfg.Paths.ResourceDir,
		ConfigDir:   cfg.Paths.ConfigDir,
	}.Resolve()
}

func openJournal(cfg *config.Config, layout paths.Layout, logger *slog.Logger) (journal.Recorder, func()) {
	if cfg.Development() || !cfg.Journal.Enabled {
		return journal.Nop{}, func() {}
	}
	path := filepath.Join(layout.ConfigDir, journal.DefaultFile)
	j, err := journal.Open(path)
	if err != nil {
		logger.Warn("Run journal unavailable", "path", path, "error", err)
		return journal.Nop{}, func() {}
	}
	run := j.BeginRun()
	logger.Info("Run journal opened", "path", path, "run_id", run.ID())
	return run, func() { j.Close() }
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := resolveLayout(cfg)
	if err != nil {
		return err
	}
	logger.Info("Resolved paths",
		"os", layout.OS.String(),
		"backend", layout.Executable,
		"config_dir", layout.ConfigDir,
	)

	recorder, closeJournal := openJournal(cfg, layout, logger)
	defer closeJournal()

	h := host.NewLorca(host.LorcaOptions{}, logger)
	defer h.Exit()

	coordinator, err := lifecycle.NewCoordinator(cfg, layout, lifecycle.Deps{
		Host:    h,
		Journal: recorder,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := coordinator.Start(ctx); err != nil {
		coordinator.Shutdown()
		if errors.Is(err, lifecycle.ErrShuttingDown) {
			logger.Info("Startup stopped by shutdown", "reason", err)
			return nil
		}
		return err
	}
	return coordinator.Run(ctx)
}
