//go:build windows

package processes

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func command(ctx context.Context, spec LaunchSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return cmd
}

func terminate(proc *os.Process) error {
	return proc.Kill()
}
