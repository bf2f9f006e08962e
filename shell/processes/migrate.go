package processes

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

// MigrationOutcome describes a one-shot migration run. A failed run is a warning, never
// a reason to stop startup.
type MigrationOutcome struct {
	Succeeded bool
	ExitCode  int
	Output    string
	Duration  time.Duration
	Err       error
}

// MigrationRunner invokes the backend in its one-shot evaluation mode.
type MigrationRunner struct {
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewMigrationRunner creates a runner that passes args to the backend. A zero timeout
// lets the migration run unbounded.
func NewMigrationRunner(args []string, timeout time.Duration, logger *slog.Logger) *MigrationRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationRunner{
		args:    append([]string(nil), args...),
		timeout: timeout,
		logger:  logger.With("component", "MigrationRunner"),
	}
}

// Run executes the migration synchronously and captures its combined output.
func (m *MigrationRunner) Run(ctx context.Context, executable string, env map[string]string) MigrationOutcome {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	spec := LaunchSpec{Executable: executable, Args: m.args, Env: env}
	cmd := command(ctx, spec)
	cmd.Env = spec.Environ()
	// Grandchildren holding the output pipe must not stall Wait after a kill.
	cmd.WaitDelay = 5 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	m.logger.Info("Running database migrations", "command", cmd.String())
	start := time.Now()
	err := cmd.Run()
	outcome := MigrationOutcome{
		Output:   output.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.Succeeded = true
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome.ExitCode = -1
		outcome.Err = ErrMigrationTimeout
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
		outcome.Err = err
	default:
		outcome.ExitCode = -1
		outcome.Err = err
	}
	return outcome
}
