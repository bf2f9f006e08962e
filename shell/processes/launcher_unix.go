//go:build !windows

package processes

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// replaceShell makes the wrapping shell exec the target, so the PID we track is the
// server itself and SIGTERM reaches it directly.
const replaceShell = `exec "$0" "$@"`

func command(ctx context.Context, spec LaunchSpec) *exec.Cmd {
	args := append([]string{"-c", replaceShell, spec.Executable}, spec.Args...)
	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// terminate signals through os.Process so a child already reaped by Wait reports
// os.ErrProcessDone instead of signalling a possibly reused PID.
func terminate(proc *os.Process) error {
	return proc.Signal(unix.SIGTERM)
}
