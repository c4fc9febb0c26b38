//go:build windows

package procpool

import (
	"os/exec"
	"syscall"
)

func setupProcessGroup(cmd *exec.Cmd) {}

func terminate(pid int, sig syscall.Signal) error {
	return nil
}

func armGracefulCancel(cmd *exec.Cmd) {
	cmd.WaitDelay = killGrace
}
