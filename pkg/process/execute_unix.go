//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes starts the command in its own process group, out of
// reach of a terminal interrupt sent to the deploy tool's group
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
