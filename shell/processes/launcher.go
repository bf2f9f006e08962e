package processes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

const defaultLogCapacity = 1000

// LaunchSpec fully determines how the backend is invoked.
type LaunchSpec struct {
	Executable string
	Args       []string
	Env        map[string]string
	Dir        string // Optional working directory
}

// Environ returns the parent environment followed by Env in key order.
func (s LaunchSpec) Environ() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, s.Env[k]))
	}
	return env
}

// Launcher spawns the long-running backend server.
type Launcher struct {
	logger      *slog.Logger
	logCapacity int
}

// NewLauncher creates a Launcher. logger is optional.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		logger:      logger.With("component", "Launcher"),
		logCapacity: defaultLogCapacity,
	}
}

// Spawn starts the backend. The returned process is reaped in the background.
func (l *Launcher) Spawn(spec LaunchSpec) (Process, error) {
	if _, err := os.Stat(spec.Executable); err != nil {
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}

	cmd := command(context.Background(), spec)
	cmd.Env = spec.Environ()
	cmd.Dir = spec.Dir

	bp := newBackendProcess(spec, l.logger, l.logCapacity)
	cmd.Stdout = bp.stdout
	cmd.Stderr = bp.stderr

	l.logger.Info("Starting backend", "command", cmd.String())
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}
	bp.attach(cmd)
	go bp.reap()

	l.logger.Info("Backend started", "pid", bp.Pid())
	return bp, nil
}
