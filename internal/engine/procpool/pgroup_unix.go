//go:build !windows

package procpool

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the child in its own process group so a
// SIGTERM/SIGINT sent to the group reaches the whole pipeline tree
// rather than just the direct child (spec.md §4.3 cancellation).
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends sig to the process group rooted at pid.
func terminate(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// armGracefulCancel makes ctx cancellation send SIGTERM to the whole
// process group first, giving killGrace before Go's exec machinery
// force-kills survivors (spec.md §4.3: "propagates the signal to all
// live children, waits briefly, then hard-kills survivors").
func armGracefulCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return terminate(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace
}
