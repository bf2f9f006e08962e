// Package lifecycle sequences the shell: prepare directories, migrate, spawn the
// backend, wait for it to accept connections, then point the window at it.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomyedwab/deskshell/shell/config"
	"github.com/tomyedwab/deskshell/shell/host"
	"github.com/tomyedwab/deskshell/shell/journal"
	"github.com/tomyedwab/deskshell/shell/paths"
	"github.com/tomyedwab/deskshell/shell/processes"
)

const (
	// MainWindowID identifies the single application window.
	MainWindowID = "main"

	envPort         = "PORT"
	envDatabasePath = "DATABASE_PATH"
	envUploadDir    = "UPLOAD_DIR"

	exitOutputLines = 20
)

// Launcher starts the long-running backend.
type Launcher interface {
	Spawn(spec processes.LaunchSpec) (processes.Process, error)
}

// Migrator runs the one-shot migration.
type Migrator interface {
	Run(ctx context.Context, executable string, env map[string]string) processes.MigrationOutcome
}

// Prober waits for the backend to accept connections.
type Prober interface {
	Probe(ctx context.Context, endpoint processes.Endpoint, timeout time.Duration) processes.ReadinessResult
}

// Deps are the collaborators of a Coordinator. Host is required; the rest default to
// the real implementations built from the configuration.
type Deps struct {
	Host     host.Host
	Launcher Launcher
	Migrator Migrator
	Prober   Prober
	Ports    *processes.PortManager
	Journal  journal.Recorder
	Logger   *slog.Logger
}

// Coordinator owns the backend process and the main window for one run.
type Coordinator struct {
	cfg      *config.Config
	layout   paths.Layout
	dirs     paths.RuntimeDirectories
	host     host.Host
	launcher Launcher
	migrator Migrator
	prober   Prober
	ports    *processes.PortManager
	journal  journal.Recorder
	logger   *slog.Logger

	handle processes.Handle

	mu       sync.Mutex
	state    State
	started  bool
	stopping bool
	endpoint processes.Endpoint
	window   host.Window
	zoom     float64

	// stopCtx is cancelled by Shutdown so an in-flight Start stops at its next step.
	stopCtx      context.Context
	stop         context.CancelFunc
	shutdownOnce sync.Once
}

// NewCoordinator wires a coordinator for cfg and the resolved layout.
func NewCoordinator(cfg *config.Config, layout paths.Layout, deps Deps) (*Coordinator, error) {
	if deps.Host == nil {
		return nil, fmt.Errorf("lifecycle: host is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:      cfg,
		layout:   layout,
		dirs:     layout.RuntimeDirectories(),
		host:     deps.Host,
		launcher: deps.Launcher,
		migrator: deps.Migrator,
		prober:   deps.Prober,
		ports:    deps.Ports,
		journal:  deps.Journal,
		logger:   logger.With("component", "Coordinator"),
		state:    StateIdle,
		zoom:     defaultZoom,
	}
	c.stopCtx, c.stop = context.WithCancel(context.Background())

	if c.launcher == nil {
		c.launcher = processes.NewLauncher(logger)
	}
	if c.migrator == nil {
		c.migrator = processes.NewMigrationRunner(cfg.Backend.MigrateArgs, cfg.Backend.MigrateTimeout, logger)
	}
	if c.prober == nil {
		c.prober = processes.NewProber(cfg.Backend.ProbeInterval)
	}
	if c.ports == nil {
		ports, err := processes.NewPortManager(cfg.Backend.Port)
		if err != nil {
			return nil, err
		}
		c.ports = ports
	}
	if c.journal == nil {
		c.journal = journal.Nop{}
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the backend endpoint once it has been chosen.
func (c *Coordinator) Endpoint() processes.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Process returns the live backend, or nil.
func (c *Coordinator) Process() processes.Process {
	return c.handle.Current()
}

// setState moves to state. Once shutdown has begun only Terminating and Terminated
// are accepted, so a startup racing with Shutdown cannot report Running.
func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	prev := c.state
	if prev == state || (c.stopping && state != StateTerminating && state != StateTerminated) {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Debug("State transition", "from", prev.String(), "to", state.String())
	c.record(journal.EventStateChange, state, prev.String()+" -> "+state.String())
}

func (c *Coordinator) record(eventType journal.EventType, state State, detail string) {
	if err := c.journal.Record(eventType, state.String(), detail); err != nil {
		c.logger.Warn("Failed to record journal event", "event", string(eventType), "error", err)
	}
}

// Start runs the startup sequence and returns once the window shows the backend.
// A Shutdown, host exit or ctx cancellation during startup makes it stop at the next
// step with ErrShuttingDown; a backend spawned by then is signalled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.interrupted(ctx); err != nil {
		return err
	}

	if err := c.registerMenu(); err != nil {
		c.logger.Warn("Failed to register menu", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.stopCtx, cancel)()
	go func() {
		select {
		case <-c.host.Done():
			c.logger.Info("Host exited during startup")
			c.Shutdown()
		case <-ctx.Done():
		}
	}()

	var err error
	if c.cfg.Development() {
		err = c.startDevelopment(ctx)
	} else {
		err = c.startProduction(ctx)
	}
	if err != nil {
		c.record(journal.EventStartupFailure, c.State(), err.Error())
		return err
	}
	return nil
}

func (c *Coordinator) startDevelopment(ctx context.Context) error {
	c.setState(StateDevAttached)
	endpoint := processes.NewEndpoint(c.cfg.Backend.DevPort)
	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()

	c.logger.Info("Development mode, expecting an externally started backend", "url", endpoint.URL())
	if err := c.awaitReadiness(ctx, endpoint, nil); err != nil {
		c.setState(StateTerminated)
		return err
	}
	return c.openWindow(endpoint)
}

func (c *Coordinator) startProduction(ctx context.Context) error {
	c.logger.Info("Preparing runtime directories", "config_dir", c.dirs.ConfigDir)
	if err := c.dirs.Prepare(); err != nil {
		c.logger.Error("Failed to prepare runtime directories", "error", err)
		c.setState(StateTerminated)
		return err
	}
	c.setState(StateDirectoriesPrepared)

	c.runMigrations(ctx)
	c.setState(StateMigrated)

	if err := c.interrupted(ctx); err != nil {
		return c.abortStartup(err)
	}
	c.setState(StateLaunching)
	endpoint, err := c.ports.Allocate()
	if err != nil {
		c.logger.Error("Failed to choose a backend port", "error", err)
		c.setState(StateTerminated)
		return err
	}
	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()

	spec := c.launchSpec(endpoint)
	proc, err := c.launcher.Spawn(spec)
	if err != nil {
		c.logger.Error("Failed to start backend", "executable", spec.Executable, "error", err)
		c.setState(StateTerminated)
		return err
	}
	if err := c.handle.Set(proc); err != nil {
		if terr := proc.Terminate(); terr != nil {
			c.logger.Warn("Failed to signal backend", "pid", proc.Pid(), "error", terr)
		}
		c.setState(StateTerminated)
		return err
	}
	c.logger.Info("Backend spawned", "pid", proc.Pid(), "url", endpoint.URL())

	// Shutdown may have emptied the handle before Set; the child is ours to signal.
	if err := c.interrupted(ctx); err != nil {
		return c.abortStartup(err)
	}

	if err := c.awaitReadiness(ctx, endpoint, proc.Done()); err != nil {
		c.terminateBackend()
		c.setState(StateTerminated)
		return err
	}
	return c.openWindow(endpoint)
}

// backendEnv is shared by the migration and the server so both see the same database.
func (c *Coordinator) backendEnv() map[string]string {
	env := map[string]string{
		envDatabasePath: c.dirs.DatabasePath(c.cfg.Backend.DBFile),
		envUploadDir:    c.dirs.UploadDir,
	}
	if c.cfg.Backend.RuntimeModeValue != "" {
		env[c.cfg.Backend.RuntimeModeVar] = c.cfg.Backend.RuntimeModeValue
	}
	return env
}

func (c *Coordinator) launchSpec(endpoint processes.Endpoint) processes.LaunchSpec {
	env := c.backendEnv()
	env[envPort] = strconv.Itoa(endpoint.Port)
	env[c.cfg.Backend.ServerEnableVar] = "true"
	return processes.LaunchSpec{
		Executable: c.layout.Executable,
		Args:       append([]string(nil), c.cfg.Backend.StartArgs...),
		Env:        env,
	}
}

// runMigrations never fails startup; a failed migration is logged and journaled.
func (c *Coordinator) runMigrations(ctx context.Context) {
	outcome := c.migrator.Run(ctx, c.layout.Executable, c.backendEnv())
	if outcome.Succeeded {
		c.logger.Info("Migrations completed successfully", "duration", outcome.Duration)
		return
	}

	c.logger.Warn("Migration warning",
		"exit_code", outcome.ExitCode,
		"error", outcome.Err,
		"output", strings.TrimSpace(outcome.Output),
	)
	detail := fmt.Sprintf("exit code %d", outcome.ExitCode)
	if outcome.Err != nil {
		detail = outcome.Err.Error()
	}
	c.record(journal.EventMigrationWarning, StateDirectoriesPrepared, detail)
}

// awaitReadiness probes endpoint. Probing stops early when exited closes; a nil
// channel never does.
func (c *Coordinator) awaitReadiness(ctx context.Context, endpoint processes.Endpoint, exited <-chan struct{}) error {
	c.setState(StateAwaitingReadiness)
	timeout := c.cfg.Backend.StartupTimeout

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if exited != nil {
		go func() {
			select {
			case <-exited:
				cancel()
			case <-probeCtx.Done():
			}
		}()
	}

	c.logger.Info("Waiting for backend", "address", endpoint.Address(), "timeout", timeout)
	result := c.prober.Probe(probeCtx, endpoint, timeout)
	if !result.Ready {
		if err := c.interrupted(ctx); err != nil {
			c.logger.Info("Stopped waiting for backend", "reason", err)
			return err
		}
		c.logger.Error("Backend did not become ready",
			"address", endpoint.Address(),
			"elapsed", result.Elapsed,
			"attempts", result.Attempts,
		)
		if proc := c.handle.Current(); proc != nil {
			for _, line := range proc.RecentOutput(exitOutputLines) {
				c.logger.Error("Backend output", "line", line)
			}
		}
		select {
		case <-exited:
			return ErrBackendExited
		default:
		}
		return ErrReadinessTimeout
	}

	c.logger.Info("Backend is ready", "elapsed", result.Elapsed, "attempts", result.Attempts)
	c.setState(StateReady)
	return nil
}

func (c *Coordinator) openWindow(endpoint processes.Endpoint) error {
	opts := host.WindowOptions{
		ID:        MainWindowID,
		Title:     c.cfg.App.Title,
		Width:     c.cfg.Window.Width,
		Height:    c.cfg.Window.Height,
		MinWidth:  c.cfg.Window.MinWidth,
		MinHeight: c.cfg.Window.MinHeight,
	}

	window, err := c.host.CreateWindow(opts)
	if err != nil {
		return c.windowFailure("create", err)
	}
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()

	if err := window.Navigate(endpoint.URL()); err != nil {
		return c.windowFailure("navigate", err)
	}
	if err := window.Show(); err != nil {
		return c.windowFailure("show", err)
	}

	if err := c.interrupted(nil); err != nil {
		return c.abortStartup(err)
	}
	c.logger.Info("Window showing backend", "url", endpoint.URL())
	c.setState(StateRunning)
	return nil
}

// interrupted reports ErrShuttingDown once Shutdown has begun or ctx is done.
func (c *Coordinator) interrupted(ctx context.Context) error {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return ErrShuttingDown
	}
	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrShuttingDown, ctx.Err())
	}
	return nil
}

func (c *Coordinator) abortStartup(err error) error {
	c.logger.Info("Startup interrupted", "state", c.State().String(), "reason", err)
	c.terminateBackend()
	c.setState(StateTerminated)
	return err
}

func (c *Coordinator) windowFailure(op string, err error) error {
	werr := &WindowError{Op: op, Err: err}
	c.logger.Error("Window failure", "op", op, "error", err)
	c.terminateBackend()
	c.setState(StateTerminated)
	return werr
}

// Shutdown signals the backend once and marks the run terminated. It does not wait
// for the backend to exit.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		c.mu.Unlock()
		c.stop()
		c.setState(StateTerminating)
		c.logger.Info("Shutting down")
		c.terminateBackend()
		c.setState(StateTerminated)
		c.record(journal.EventShutdown, StateTerminated, "")
	})
}

func (c *Coordinator) terminateBackend() {
	proc, err := c.handle.Terminate()
	if proc == nil {
		return
	}
	if err != nil {
		c.logger.Warn("Failed to signal backend", "pid", proc.Pid(), "uptime", proc.Uptime(), "error", err)
		return
	}
	c.logger.Info("Backend signalled", "pid", proc.Pid(), "uptime", proc.Uptime())
}
