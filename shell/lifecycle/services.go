package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomyedwab/deskshell/shell/journal"
)

const treeShutdownTimeout = 5 * time.Second

// Run supervises the running shell until the host exits or ctx is cancelled. It
// always ends with Shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Shutdown()

	handler := &sutureslog.Handler{Logger: c.logger}
	root := suture.New("deskshell", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   treeShutdownTimeout,
	})
	root.Add(&hostExitService{coordinator: c})
	if proc := c.handle.Current(); proc != nil {
		root.Add(&backendExitService{coordinator: c})
	}

	err := root.Serve(ctx)
	if errors.Is(err, suture.ErrTerminateSupervisorTree) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// hostExitService shuts the coordinator down when the host goes away.
type hostExitService struct {
	coordinator *Coordinator
}

func (s *hostExitService) Serve(ctx context.Context) error {
	select {
	case <-s.coordinator.host.Done():
		s.coordinator.logger.Info("Host exited")
		s.coordinator.Shutdown()
		return suture.ErrTerminateSupervisorTree
	case <-ctx.Done():
		s.coordinator.Shutdown()
		s.coordinator.host.Exit()
		return ctx.Err()
	}
}

func (s *hostExitService) String() string {
	return "host-exit"
}

// backendExitService reports a backend that exits while the window is still up. The
// backend is never restarted.
type backendExitService struct {
	coordinator *Coordinator
}

func (s *backendExitService) Serve(ctx context.Context) error {
	c := s.coordinator
	proc := c.handle.Current()
	if proc == nil {
		return suture.ErrDoNotRestart
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if state := c.State(); state == StateTerminating || state == StateTerminated {
		c.logger.Info("Backend exited", "pid", proc.Pid(), "uptime", proc.Uptime(), "error", proc.ExitErr())
		return suture.ErrDoNotRestart
	}

	c.logger.Error("Backend exited unexpectedly", "pid", proc.Pid(), "uptime", proc.Uptime(), "error", proc.ExitErr())
	for _, line := range proc.RecentOutput(exitOutputLines) {
		c.logger.Error("Backend output", "line", line)
	}
	c.record(journal.EventBackendExit, c.State(), fmt.Sprintf("pid %d: %v", proc.Pid(), proc.ExitErr()))
	return suture.ErrDoNotRestart
}

func (s *backendExitService) String() string {
	return "backend-exit"
}
